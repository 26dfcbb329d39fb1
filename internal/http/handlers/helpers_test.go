package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-relay/internal/domain"
	"github.com/tbourn/go-chat-relay/internal/http/middleware"
	"github.com/tbourn/go-chat-relay/internal/repo"
	"github.com/tbourn/go-chat-relay/internal/services"
	"github.com/tbourn/go-chat-relay/internal/webhook"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name, password string) *domain.User {
	t.Helper()
	h, err := services.HashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := repo.CreateUser(context.Background(), db, name, h)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// relay is a full handler stack over sqlite and fake webhook servers.
type relay struct {
	db     *gorm.DB
	h      *Handlers
	router *gin.Engine
}

// newRelay starts the webhook servers (nil means unreachable) and mounts the
// handlers behind the session and idempotency middleware.
func newRelay(t *testing.T, ingest, answer http.HandlerFunc) *relay {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newHandlerDB(t)

	auth := services.NewAuthService(db, []byte(testSecret), "test", time.Hour)
	up := &services.UploadService{
		DB:             db,
		Ingest:         webhook.NewIngestClient(fakeUpstream(t, ingest), 5*time.Second),
		IdempotencyTTL: time.Hour,
	}
	q := &services.QuestionService{
		DB:               db,
		Answer:           webhook.NewAnswerClient(fakeUpstream(t, answer), 5*time.Second),
		MaxQuestionRunes: 200,
	}
	h := New(auth, up, q, &services.ConversationService{DB: db})
	h.MaxUploadBytes = 1 << 20

	r := gin.New()
	r.Use(middleware.ResolveSession(auth))
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
		func(ctx context.Context, uid, _ string, key string, now time.Time) (bool, error) {
			return up.Replayable(ctx, uid, key, now), nil
		}))
	r.POST("/login", h.Login)
	authd := r.Group("/", middleware.RequireSession())
	authd.POST("/logout", h.Logout)
	authd.GET("/me", h.Me)
	authd.POST("/upload", h.Upload)
	authd.GET("/uploads", h.ListUploads)
	authd.POST("/ask", h.Ask)
	authd.GET("/conversation", h.ListConversation)

	return &relay{db: db, h: h, router: r}
}

// fakeUpstream returns the URL of a test server running fn, or of a server
// that is already closed when fn is nil.
func fakeUpstream(t *testing.T, fn http.HandlerFunc) string {
	t.Helper()
	if fn == nil {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		return srv.URL
	}
	srv := httptest.NewServer(fn)
	t.Cleanup(srv.Close)
	return srv.URL
}

func (rl *relay) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	rl.router.ServeHTTP(w, req)
	return w
}

func (rl *relay) doJSON(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return rl.do(req)
}

// login seeds name/password and returns a bearer token for it.
func (rl *relay) login(t *testing.T, name, password string) (string, *domain.User) {
	t.Helper()
	u := seedUser(t, rl.db, name, password)
	w := rl.doJSON(http.MethodPost, "/login", "", LoginRequest{Name: name, Password: password})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var resp LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("login json: %v", err)
	}
	return resp.Token, u
}

type filePart struct {
	field, filename, contentType string
	data                         []byte
}

func multipartRequest(t *testing.T, token string, fields map[string]string, files ...filePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("field: %v", err)
		}
	}
	for _, f := range files {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.filename))
		hdr.Set("Content-Type", f.contentType)
		pw, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatalf("part: %v", err)
		}
		_, _ = pw.Write(f.data)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func pngPart() filePart {
	return filePart{field: "file", filename: "photo.png", contentType: "image/png", data: pngBytes}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("error json: %v (%s)", err, w.Body.String())
	}
	return er
}

func (rl *relay) authedRequest(method, path, token string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}
