// Package client is a Go SDK for the chat relay API. It keeps the login in a
// SessionStore and drives the upload-then-chat flow used by cmd/chatcli.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// APIError is a non-2xx reply from the relay. Code and Message are filled
// when the body is the relay's error envelope; upstream replies passed through
// by /upload keep their raw Body.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Body      []byte
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("relay: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("relay: %d %s", e.Status, http.StatusText(e.Status))
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// Client talks to one relay instance.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Store   *SessionStore
}

// New returns a Client for baseURL. A nil store keeps the session in memory.
func New(baseURL string, store *SessionStore) *Client {
	if store == nil {
		store = &SessionStore{now: time.Now}
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Store:   store,
	}
}

type loginReply struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	HasUploaded bool      `json:"hasUploaded"`
	Token       string    `json:"token"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Login verifies the credentials and stores the new session.
func (c *Client) Login(ctx context.Context, name, password string) (Session, error) {
	body, _ := json.Marshal(map[string]string{"name": name, "password": password})
	var out loginReply
	if err := c.doJSON(ctx, http.MethodPost, "/login", "", bytes.NewReader(body), &out); err != nil {
		return Session{}, err
	}
	sess := Session{
		Identity:  domain.Identity{ID: out.ID, Name: out.Name, HasUploaded: out.HasUploaded},
		Token:     out.Token,
		IssuedAt:  out.IssuedAt,
		ExpiresAt: out.ExpiresAt,
	}
	if err := c.Store.Save(sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Logout revokes the server session. The local session is cleared even when
// the server cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	sess, ok := c.Store.Current()
	if !ok {
		return nil
	}
	err := c.doJSON(ctx, http.MethodPost, "/logout", sess.Token, nil, nil)
	if clrErr := c.Store.Clear(); clrErr != nil {
		return errors.Join(err, clrErr)
	}
	if IsStatus(err, http.StatusUnauthorized) {
		return nil
	}
	return err
}

// Me fetches the current identity and refreshes the stored upload flag. A 401
// drops the stored session.
func (c *Client) Me(ctx context.Context) (domain.Identity, error) {
	sess, ok := c.Store.Current()
	if !ok {
		return domain.Identity{}, ErrAnonymous
	}
	var out domain.Identity
	if err := c.doJSON(ctx, http.MethodGet, "/me", sess.Token, nil, &out); err != nil {
		if IsStatus(err, http.StatusUnauthorized) {
			_ = c.Store.Clear()
		}
		return domain.Identity{}, err
	}
	if out.HasUploaded != sess.Identity.HasUploaded {
		if err := c.Store.SetHasUploaded(out.HasUploaded); err != nil {
			return out, err
		}
	}
	return out, nil
}

// UploadResult describes a successful upload.
type UploadResult struct {
	UploadID      string
	Status        int
	AttachmentURL string
	Replayed      bool
	Body          []byte
}

// Upload sends the file at path to /upload. On success the stored session is
// marked as having uploaded.
func (c *Client) Upload(ctx context.Context, path string) (UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadResult{}, err
	}
	defer f.Close()
	return c.UploadReader(ctx, filepath.Base(path), mediaTypeOf(path), f)
}

// UploadReader is Upload for content that is not on disk.
func (c *Client) UploadReader(ctx context.Context, filename, mediaType string, r io.Reader) (UploadResult, error) {
	sess, ok := c.Store.Current()
	if !ok {
		return UploadResult{}, ErrAnonymous
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return UploadResult{}, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", sess.Token, &buf)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.HTTP.Do(req)
	if err != nil {
		return UploadResult{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return UploadResult{}, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return UploadResult{}, apiError(res, body)
	}

	out := UploadResult{
		UploadID:      res.Header.Get("X-Upload-ID"),
		Status:        res.StatusCode,
		AttachmentURL: attachmentURL(body),
		Replayed:      res.Header.Get("Idempotency-Replayed") == "true",
		Body:          body,
	}
	if err := c.Store.SetHasUploaded(true); err != nil {
		return out, err
	}
	return out, nil
}

// AskReply is the relay's answer to a question.
type AskReply struct {
	Answer         string `json:"answer"`
	Fallback       bool   `json:"fallback"`
	MessageID      string `json:"messageId"`
	UpstreamStatus int    `json:"upstreamStatus"`
}

// Ask relays a question with optional attachments.
func (c *Client) Ask(ctx context.Context, question string, atts []domain.Attachment) (AskReply, error) {
	sess, ok := c.Store.Current()
	if !ok {
		return AskReply{}, ErrAnonymous
	}
	if atts == nil {
		atts = []domain.Attachment{}
	}
	body, err := json.Marshal(struct {
		Question    string              `json:"question"`
		Name        string              `json:"name"`
		ID          int64               `json:"id"`
		Attachments []domain.Attachment `json:"attachments"`
	}{question, sess.Identity.Name, sess.Identity.ID, atts})
	if err != nil {
		return AskReply{}, err
	}
	var out AskReply
	if err := c.doJSON(ctx, http.MethodPost, "/ask", sess.Token, bytes.NewReader(body), &out); err != nil {
		return AskReply{}, err
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, body io.Reader, out any) error {
	req, err := c.newRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return apiError(res, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", path, err)
	}
	return nil
}

func apiError(res *http.Response, body []byte) *APIError {
	e := &APIError{Status: res.StatusCode, Body: body, RequestID: res.Header.Get("X-Request-ID")}
	var env struct {
		RequestID string `json:"request_id"`
		Code      string `json:"code"`
		Message   string `json:"message"`
	}
	if json.Unmarshal(body, &env) == nil && env.Code != "" {
		e.Code, e.Message = env.Code, env.Message
		if env.RequestID != "" {
			e.RequestID = env.RequestID
		}
	}
	return e
}

// attachmentURL reads the file URL from an ingestion reply ("url") or from a
// replayed upload summary ("attachment").
func attachmentURL(body []byte) string {
	var v struct {
		URL        string `json:"url"`
		Attachment string `json:"attachment"`
	}
	if json.Unmarshal(body, &v) != nil {
		return ""
	}
	if u := strings.TrimSpace(v.URL); u != "" {
		return u
	}
	return strings.TrimSpace(v.Attachment)
}

// extraTypes covers media the mime package only knows when the host has a
// mime.types file.
var extraTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".bmp":  "image/bmp",
	".heic": "image/heic",
}

func mediaTypeOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	return "application/octet-stream"
}
