// Package domain defines the persistence models for credential records,
// sessions, uploads and conversation transcripts, plus the small value types
// (Identity, Attachment) exchanged with clients and the AI backend. These
// types are mapped with GORM and form the core data layer of the relay.
package domain

import (
	"time"
)

// Message roles stored in a conversation transcript.
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// Attachment kinds accepted by the answering endpoint.
const (
	AttachmentImage = "image"
	AttachmentAudio = "audio"
)

// Upload statuses recorded in the uploads table.
const (
	UploadStored   = "stored"
	UploadFailed   = "failed"
	UploadRejected = "rejected"
)

// User is a credential record. The relay only ever looks a user up by name
// and password and flips HasUploaded after the first successful upload.
//
// Fields:
//   - ID: integer primary key, exposed to clients as the identity id.
//   - Name: login name, stored NFC-normalized; indexed but not unique.
//   - PasswordHash: bcrypt hash; never serialized.
//   - HasUploaded: the gate that unlocks the chat.
type User struct {
	ID           int64     `json:"id"          gorm:"primaryKey;autoIncrement"`
	Name         string    `json:"name"        gorm:"type:varchar(255);not null;index:idx_users_name"`
	PasswordHash string    `json:"-"           gorm:"type:varchar(255);not null"`
	HasUploaded  bool      `json:"hasUploaded" gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Identity returns the minimal profile handed to clients.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Name: u.Name, HasUploaded: u.HasUploaded}
}

// Identity is the authenticated user's minimal profile.
type Identity struct {
	ID          int64  `json:"id"          example:"1"`
	Name        string `json:"name"        example:"alice"`
	HasUploaded bool   `json:"hasUploaded" example:"false"`
}

// Session is a server-side login session. The bearer token handed to the
// client carries the session ID; a session is usable while it is neither
// revoked nor past ExpiresAt.
type Session struct {
	ID        string     `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID    int64      `json:"userId"    gorm:"not null;index:idx_user_sessions"`
	IssuedAt  time.Time  `json:"issuedAt"  gorm:"not null"`
	ExpiresAt time.Time  `json:"expiresAt" gorm:"not null;index"`
	RevokedAt *time.Time `json:"-"         gorm:"index"`

	// User is the session owner. Sessions go away with their user.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Active reports whether the session can still authenticate requests at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Upload is the audit record of one file forwarded to the ingestion endpoint.
// A stored upload is written in the same transaction that sets
// User.HasUploaded, so the two never disagree.
type Upload struct {
	ID             string    `json:"id"             gorm:"type:char(36);primaryKey"`
	UserID         int64     `json:"userId"         gorm:"not null;index:idx_user_uploads,priority:1"`
	SessionID      string    `json:"-"              gorm:"type:char(36);not null"`
	Filename       string    `json:"filename"       gorm:"type:varchar(255);not null"`
	MediaType      string    `json:"mediaType"      gorm:"type:varchar(64);not null"`
	SizeBytes      int64     `json:"sizeBytes"      gorm:"not null"`
	Status         string    `json:"status"         gorm:"type:varchar(16);not null;check:status IN ('stored','failed','rejected')"`
	UpstreamStatus int       `json:"upstreamStatus" gorm:"not null;default:0"`
	AttachmentURL  string    `json:"attachmentUrl,omitempty" gorm:"type:text"`
	CreatedAt      time.Time `json:"createdAt"      gorm:"index:idx_user_uploads,priority:2"`
	UpdatedAt      time.Time `json:"updatedAt"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Upload.
func (Upload) TableName() string { return "uploads" }

// ConversationMessage is a single chat turn within a session's transcript.
// The transcript is append-only and is removed when the session is revoked.
type ConversationMessage struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	SessionID string    `json:"-"         gorm:"type:char(36);not null;index:idx_session_msgs,priority:1"`
	Role      string    `json:"role"      gorm:"type:varchar(8);not null;check:role IN ('user','ai')"`
	Content   string    `json:"content"   gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_session_msgs,priority:2"`
	UpdatedAt time.Time `json:"-"`

	Session Session `json:"-" gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ConversationMessage.
func (ConversationMessage) TableName() string { return "conversation_messages" }

// Attachment references an uploaded file by URL inside a question payload.
// It is never stored.
type Attachment struct {
	Kind string `json:"kind" example:"image"`
	URL  string `json:"url"  example:"https://files.example.com/a.jpg"`
}

// ValidAttachmentKind reports whether k is one of the accepted kinds.
func ValidAttachmentKind(k string) bool {
	return k == AttachmentImage || k == AttachmentAudio
}
