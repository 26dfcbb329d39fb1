package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// ErrAnonymous is returned by operations that need a stored session when
// there is none.
var ErrAnonymous = errors.New("no active session")

// Session is what the client remembers about a login.
type Session struct {
	Identity  domain.Identity `json:"identity"`
	Token     string          `json:"token"`
	IssuedAt  time.Time       `json:"issuedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Expired reports whether the session can no longer be used at now. A zero
// ExpiresAt never expires.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionStore holds at most one Session and mirrors it to a JSON file on
// every change. An empty path keeps the session in memory only.
//
// States: Anonymous, Authenticated with hasUploaded false, Authenticated with
// hasUploaded true. Clear returns to Anonymous from any state, and so does an
// expired session the first time it is read.
type SessionStore struct {
	mu   sync.Mutex
	path string
	cur  *Session
	now  func() time.Time
}

// OpenSessionStore restores the session saved at path. A missing file means
// Anonymous. An unreadable, corrupt or expired file is removed and also means
// Anonymous.
func OpenSessionStore(path string) (*SessionStore, error) {
	s := &SessionStore{path: path, now: time.Now}
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil || sess.Token == "" || sess.Expired(s.now()) {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("drop stale session file: %w", rmErr)
		}
		return s, nil
	}
	s.cur = &sess
	return s, nil
}

// Path is the backing file, "" for an in-memory store.
func (s *SessionStore) Path() string { return s.path }

// Current returns the stored session, or false when Anonymous.
func (s *SessionStore) Current() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return Session{}, false
	}
	if s.cur.Expired(s.now()) {
		s.cur = nil
		_ = s.persistLocked()
		return Session{}, false
	}
	return *s.cur, true
}

// Save replaces the stored session.
func (s *SessionStore) Save(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = &sess
	return s.persistLocked()
}

// Clear forgets the session. Clearing an Anonymous store is not an error.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = nil
	return s.persistLocked()
}

// SetHasUploaded updates the upload flag of the stored session.
func (s *SessionStore) SetHasUploaded(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.Expired(s.now()) {
		return ErrAnonymous
	}
	s.cur.Identity.HasUploaded = v
	return s.persistLocked()
}

// persistLocked writes the session next to the target and renames it into
// place, or removes the file when Anonymous.
func (s *SessionStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if s.cur == nil {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session file: %w", err)
		}
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	b, err := json.MarshalIndent(s.cur, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
