// Question HTTP handlers.
//
// POST /ask relays a question to the answering webhook and always answers
// 200 once the question is accepted: upstream failures become the apology
// text with fallback=true. GET /conversation pages through the transcript
// of the current session.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-relay/internal/domain"
	"github.com/tbourn/go-chat-relay/internal/http/middleware"
	"github.com/tbourn/go-chat-relay/internal/services"
)

// AskRequest is the JSON payload for POST /ask. Name and ID are optional and
// must match the session when sent.
type AskRequest struct {
	Question    string              `json:"question"    example:"What is in the picture?"`
	Name        string              `json:"name"        example:"alice"`
	ID          json.Number         `json:"id"          swaggertype:"integer" example:"1"`
	Attachments []domain.Attachment `json:"attachments"`
}

// AskResponse is the AI turn for a question.
type AskResponse struct {
	Answer    string `json:"answer"    example:"A cat on a sofa."`
	Fallback  bool   `json:"fallback"  example:"false"`
	MessageID string `json:"messageId" example:"5b0c3c5e-9a54-4d8e-8a8f-0b8f3f1e6c11"`
	// UpstreamStatus is the answering service's HTTP status, 0 when it was unreachable.
	UpstreamStatus int `json:"upstreamStatus" example:"200"`
}

// ListConversationResponse contains a page of transcript messages.
type ListConversationResponse struct {
	Messages   []domain.ConversationMessage `json:"messages"`
	Pagination Pagination                   `json:"pagination"`
}

// Ask godoc
// @ID          ask
// @Summary     Ask a question
// @Description Sends the question, with optional image/audio attachment URLs, to the answering service. Requires a previous successful upload.
// @Tags        Conversation
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.AskRequest  true  "Question"
// @Success     200   {object}  handlers.AskResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Empty question or invalid attachment"
// @Failure     401   {object}  handlers.ErrorResponse  "Missing or invalid session"
// @Failure     403   {object}  handlers.ErrorResponse  "Upload required or identity mismatch"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /ask [post]
func (h *Handlers) Ask(c *gin.Context) {
	sess, user, found := middleware.SessionFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "session required")
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if !identityMatches(user, req.ID.String(), req.Name) {
		fail(c, http.StatusForbidden, ErrCodeIdentityMismatch, "id or name does not match the session")
		return
	}

	res, err := h.asks.Ask(c.Request.Context(), services.AskInput{
		Session:     sess,
		User:        user,
		Question:    req.Question,
		Attachments: req.Attachments,
	})
	switch {
	case err == nil:
	case errors.Is(err, services.ErrEmptyQuestion):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question is required")
		return
	case errors.Is(err, services.ErrQuestionTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question is too long")
		return
	case errors.Is(err, services.ErrInvalidAttachment):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "attachments need kind image or audio and a url")
		return
	case errors.Is(err, services.ErrUploadRequired):
		fail(c, http.StatusForbidden, ErrCodeUploadRequired, "upload a file before asking")
		return
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not record the conversation")
		return
	}

	ok(c, http.StatusOK, AskResponse{
		Answer:         res.Answer,
		Fallback:       res.Fallback,
		MessageID:      res.MessageID,
		UpstreamStatus: res.UpstreamStatus,
	})
}

// ListConversation godoc
// @ID          listConversation
// @Summary     Conversation transcript (paginated)
// @Description Returns the messages of the current session oldest first. Supports weak ETag via If-None-Match.
// @Tags        Conversation
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListConversationResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid session"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversation [get]
func (h *Handlers) ListConversation(c *gin.Context) {
	sess, _, found := middleware.SessionFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "session required")
		return
	}
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	if count, latest, err := h.conv.Stats(ctx, sess.ID); err == nil {
		if weakETag(c, "conv", sess.ID, count, latest) {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.conv.ListPage(ctx, sess.ID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list messages")
		return
	}
	ok(c, http.StatusOK, ListConversationResponse{Messages: items, Pagination: newPagination(page, pageSize, total)})
}
