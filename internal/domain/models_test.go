package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:domain_models_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(User{}).TableName():                "users",
		(Session{}).TableName():             "sessions",
		(Upload{}).TableName():              "uploads",
		(ConversationMessage{}).TableName(): "conversation_messages",
		(Idempotency{}).TableName():         "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestUser_Identity(t *testing.T) {
	u := User{ID: 7, Name: "alice", PasswordHash: "x", HasUploaded: true}
	id := u.Identity()
	if id != (Identity{ID: 7, Name: "alice", HasUploaded: true}) {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestSession_Active(t *testing.T) {
	now := time.Now().UTC()
	s := &Session{ID: "s1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if !s.Active(now) {
		t.Fatalf("fresh session should be active")
	}
	if s.Active(now.Add(2 * time.Hour)) {
		t.Fatalf("expired session should not be active")
	}
	revoked := now
	s.RevokedAt = &revoked
	if s.Active(now) {
		t.Fatalf("revoked session should not be active")
	}
	var nilSession *Session
	if nilSession.Active(now) {
		t.Fatalf("nil session should not be active")
	}
}

func TestValidAttachmentKind(t *testing.T) {
	if !ValidAttachmentKind("image") || !ValidAttachmentKind("audio") {
		t.Fatalf("image/audio must be valid")
	}
	if ValidAttachmentKind("video") || ValidAttachmentKind("") {
		t.Fatalf("unexpected kind accepted")
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&User{}, &Session{}, &Upload{}, &ConversationMessage{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, tbl := range []any{&User{}, &Session{}, &Upload{}, &ConversationMessage{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&User{}, "idx_users_name") {
		t.Fatalf("expected index idx_users_name on users")
	}
	if !m.HasIndex(&Session{}, "idx_user_sessions") {
		t.Fatalf("expected index idx_user_sessions on sessions")
	}
	if !m.HasIndex(&ConversationMessage{}, "idx_session_msgs") {
		t.Fatalf("expected index idx_session_msgs on conversation_messages")
	}

	now := time.Now().UTC()
	u := &User{Name: "alice", PasswordHash: "h"}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if u.ID == 0 {
		t.Fatalf("expected autoincrement id")
	}
	s := &Session{ID: "s1", UserID: u.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("insert session: %v", err)
	}
	msg := &ConversationMessage{ID: "m1", SessionID: "s1", Role: RoleUser, Content: "hi", CreatedAt: now}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}

	// Role check constraint
	bad := &ConversationMessage{ID: "m2", SessionID: "s1", Role: "assistant", Content: "x", CreatedAt: now}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected CHECK violation for role=assistant")
	}

	// CASCADE: deleting the session removes its transcript
	if err := db.Delete(&Session{}, "id = ?", "s1").Error; err != nil {
		t.Fatalf("delete session: %v", err)
	}
	var cnt int64
	if err := db.Model(&ConversationMessage{}).Where("session_id = ?", "s1").Count(&cnt).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected transcript to cascade-delete, got %d", cnt)
	}
}
