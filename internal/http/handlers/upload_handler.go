// Upload HTTP handlers.
//
// POST /upload relays one multipart file to the ingestion webhook and, on
// success, answers with the webhook's own status, body and content type plus
// X-Upload-ID and X-Has-Uploaded. GET /uploads lists the caller's uploads.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-relay/internal/domain"
	"github.com/tbourn/go-chat-relay/internal/http/middleware"
	"github.com/tbourn/go-chat-relay/internal/services"
)

// Headers set on a successful upload.
const (
	HeaderUploadID    = "X-Upload-ID"
	HeaderHasUploaded = "X-Has-Uploaded"
)

// MultipartEnvelopeBytes is the allowance on top of MaxUploadBytes for the
// multipart framing and the small id/name fields, so a file of exactly
// MaxUploadBytes is accepted.
const MultipartEnvelopeBytes = 64 << 10

// multipartMemory is how much of a form ParseMultipartForm keeps in memory
// before spilling file parts to disk.
const multipartMemory = 8 << 20

// UploadReplayResponse summarizes an upload served again for a repeated
// Idempotency-Key. The webhook is not called a second time.
type UploadReplayResponse struct {
	UploadID   string `json:"uploadId"             example:"0f5e7c0e-2f7e-4b7f-9d0a-6f1d2c3b4a59"`
	Status     string `json:"status"               example:"stored"`
	Attachment string `json:"attachment,omitempty" example:"https://files.example.com/a.jpg"`
}

// ListUploadsResponse wraps a page of uploads and pagination information.
type ListUploadsResponse struct {
	Uploads    []domain.Upload `json:"uploads"`
	Pagination Pagination      `json:"pagination"`
}

// Upload godoc
// @ID          upload
// @Summary     Upload a file
// @Description Forwards exactly one image or audio file to the ingestion service. On success the ingestion reply is returned verbatim and the account is marked as having uploaded.
// @Tags        Uploads
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header    string  false  "Key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       file             formData  file    true   "image/jpeg, image/png, audio/mpeg or audio/wav"
// @Param       id               formData  string  false  "Must match the session user id when present"
// @Param       name             formData  string  false  "Must match the session user name when present"
// @Success     200  {object}  handlers.UploadReplayResponse  "Ingestion reply (verbatim) or idempotent replay"
// @Header      200  {string}  X-Upload-ID           "ID of the stored upload"
// @Header      200  {string}  X-Has-Uploaded        "Always true on success"
// @Header      200  {string}  Idempotency-Replayed  "true when served from a previous request"
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed multipart body"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid session"
// @Failure     403  {object}  handlers.ErrorResponse  "id or name does not match the session"
// @Failure     413  {object}  handlers.ErrorResponse  "File too large"
// @Failure     415  {object}  handlers.ErrorResponse  "Unsupported media type"
// @Failure     500  {object}  handlers.ErrorResponse  "Ingestion unreachable or flag update failed"
// @Router      /upload [post]
func (h *Handlers) Upload(c *gin.Context) {
	sess, user, found := middleware.SessionFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "session required")
		return
	}

	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+MultipartEnvelopeBytes)
	}
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.failTooLarge(c)
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "expected a multipart/form-data body")
		return
	}
	form := c.Request.MultipartForm
	defer func() { _ = form.RemoveAll() }()

	if !identityMatches(user, formValue(form.Value, "id"), formValue(form.Value, "name")) {
		fail(c, http.StatusForbidden, ErrCodeIdentityMismatch, "id or name does not match the session")
		return
	}

	files := form.File["file"]
	if len(files) != 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "exactly one file part named \"file\" is required")
		return
	}
	fh := files[0]
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		h.failTooLarge(c)
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read file part")
		return
	}
	defer f.Close()

	key, _ := middleware.GetIdempotencyKey(c)
	res, err := h.uploads.Upload(c.Request.Context(), services.UploadInput{
		Session:        sess,
		User:           user,
		Filename:       fh.Filename,
		DeclaredType:   fh.Header.Get("Content-Type"),
		Content:        f,
		IdempotencyKey: key,
	})
	if err != nil {
		var upstream *services.UpstreamError
		switch {
		case errors.As(err, &upstream):
			passthrough(c, upstream.Response)
		case errors.Is(err, services.ErrMalformedRequest):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file and filename are required")
		case errors.Is(err, services.ErrUnsupportedMediaType):
			fail(c, http.StatusUnsupportedMediaType, ErrCodeUnsupportedMediaType,
				"only image/jpeg, image/png, audio/mpeg and audio/wav are accepted")
		case errors.Is(err, services.ErrUpstreamUnreachable):
			fail(c, http.StatusInternalServerError, ErrCodeUpstreamUnreachable, "upload service unavailable")
		case errors.Is(err, services.ErrUploadStateFailed):
			fail(c, http.StatusInternalServerError, ErrCodeUploadStateFailed, "file stored but upload state could not be saved")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "upload failed")
		}
		return
	}

	c.Header(HeaderUploadID, res.Upload.ID)
	c.Header(HeaderHasUploaded, "true")
	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusOK, UploadReplayResponse{
			UploadID:   res.Upload.ID,
			Status:     res.Upload.Status,
			Attachment: res.Upload.AttachmentURL,
		})
		return
	}
	passthrough(c, res.Upstream)
}

func (h *Handlers) failTooLarge(c *gin.Context) {
	fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge,
		"file exceeds "+strconv.FormatInt(h.MaxUploadBytes, 10)+" bytes")
}

// ListUploads godoc
// @ID          listUploads
// @Summary     List uploads (paginated)
// @Description Returns the caller's uploads, newest first, including rejected and failed attempts. Supports weak ETag via If-None-Match.
// @Tags        Uploads
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListUploadsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid session"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /uploads [get]
func (h *Handlers) ListUploads(c *gin.Context) {
	_, user, found := middleware.SessionFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "session required")
		return
	}
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	if count, latest, err := h.uploads.Stats(ctx, user.ID); err == nil {
		if weakETag(c, "uploads", strconv.FormatInt(user.ID, 10), count, latest) {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.uploads.ListPage(ctx, user.ID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list uploads")
		return
	}
	ok(c, http.StatusOK, ListUploadsResponse{Uploads: items, Pagination: newPagination(page, pageSize, total)})
}

func formValue(v map[string][]string, key string) string {
	if vals := v[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}
