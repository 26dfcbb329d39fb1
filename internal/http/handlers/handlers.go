// Relay HTTP handlers.
//
// This file wires the handler set to its service contracts:
//   - POST /login, POST /logout, GET /me     (sessions)
//   - POST /upload, GET /uploads            (upload relay)
//   - POST /ask, GET /conversation          (question relay)
//
// Handlers are transport-thin: they read the session resolved by middleware,
// validate input, call application services, and translate results and
// sentinel errors into HTTP responses.
package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-relay/internal/domain"
	"github.com/tbourn/go-chat-relay/internal/services"
	"github.com/tbourn/go-chat-relay/internal/utils"
)

//
// Service contracts (context-aware)
//

// AuthService issues and revokes sessions.
type AuthService interface {
	Login(ctx context.Context, name, password string) (*services.LoginResult, error)
	Logout(ctx context.Context, sess *domain.Session) error
	Me(ctx context.Context, sess *domain.Session) (domain.Identity, error)
}

// UploadService relays files to the ingestion webhook and lists past uploads.
type UploadService interface {
	Upload(ctx context.Context, in services.UploadInput) (*services.UploadResult, error)
	ListPage(ctx context.Context, userID int64, page, pageSize int) ([]domain.Upload, int64, error)
	// Stats returns the count and latest timestamp used for the list ETag.
	Stats(ctx context.Context, userID int64) (int64, *time.Time, error)
}

// QuestionService relays questions to the answering webhook.
type QuestionService interface {
	Ask(ctx context.Context, in services.AskInput) (*services.AskResult, error)
}

// ConversationService reads a session's transcript.
type ConversationService interface {
	ListPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.ConversationMessage, int64, error)
	Stats(ctx context.Context, sessionID string) (int64, *time.Time, error)
}

//
// Handler wiring
//

// Handlers groups the relay endpoints. MaxUploadBytes caps a multipart
// /upload body; 0 disables the cap.
type Handlers struct {
	auth    AuthService
	uploads UploadService
	asks    QuestionService
	conv    ConversationService

	MaxUploadBytes int64
}

// New constructs a Handlers bound to the given services.
func New(auth AuthService, uploads UploadService, asks QuestionService, conv ConversationService) *Handlers {
	return &Handlers{auth: auth, uploads: uploads, asks: asks, conv: conv}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination reads page and page_size from the query string.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.PageParams(c.Query("page"), c.Query("page_size"))
}

// weakETag builds W/"<kind>:<owner>:<count>:<unix>" and reports whether the
// request's If-None-Match already carries it. The header is always set.
func weakETag(c *gin.Context, kind, owner string, count int64, latest *time.Time) (match bool) {
	var ts int64
	if latest != nil {
		ts = latest.Unix()
	}
	etag := `W/"` + kind + ":" + owner + ":" + strconv.FormatInt(count, 10) + ":" + strconv.FormatInt(ts, 10) + `"`
	c.Header("ETag", etag)
	inm := c.GetHeader("If-None-Match")
	return inm != "" && inm == etag
}

// identityMatches reports whether optional client-supplied id and name agree
// with the session owner. Empty values are treated as absent.
func identityMatches(u *domain.User, id, name string) bool {
	if id != "" && id != strconv.FormatInt(u.ID, 10) {
		return false
	}
	if name != "" && services.NormalizeName(name) != u.Name {
		return false
	}
	return true
}
