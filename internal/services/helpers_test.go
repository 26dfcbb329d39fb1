package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-relay/internal/domain"
	"github.com/tbourn/go-chat-relay/internal/repo"
	"github.com/tbourn/go-chat-relay/internal/webhook"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedCredential stores name with a low-cost bcrypt hash of password.
func seedCredential(t *testing.T, db *gorm.DB, name, password string) *domain.User {
	t.Helper()
	h, err := HashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := repo.CreateUser(context.Background(), db, name, h)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedLiveSession(t *testing.T, db *gorm.DB, u *domain.User) *domain.Session {
	t.Helper()
	s, err := repo.CreateSession(context.Background(), db, u.ID, time.Hour)
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s
}

// fakeIngester records calls and drains the relayed content.
type fakeIngester struct {
	calls int
	got   webhook.IngestFile
	body  []byte
	resp  *webhook.Response
	err   error
}

func (f *fakeIngester) Send(_ context.Context, file webhook.IngestFile) (*webhook.Response, error) {
	f.calls++
	f.got = file
	buf := make([]byte, 0, 1024)
	tmp := make([]byte, 256)
	for {
		n, err := file.Content.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	f.body = buf
	return f.resp, f.err
}

type fakeAnswerer struct {
	calls int
	got   webhook.Question
	resp  *webhook.Response
	err   error
}

func (f *fakeAnswerer) Ask(_ context.Context, q webhook.Question) (*webhook.Response, error) {
	f.calls++
	f.got = q
	return f.resp, f.err
}
