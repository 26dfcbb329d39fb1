// Session HTTP handlers: POST /login, POST /logout, GET /me.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-relay/internal/http/middleware"
	"github.com/tbourn/go-chat-relay/internal/services"
)

// LoginRequest is the JSON payload for POST /login.
type LoginRequest struct {
	Name     string `json:"name"     example:"alice"`
	Password string `json:"password" example:"secret"`
}

// LoginResponse is the identity plus the bearer token of the new session.
type LoginResponse struct {
	ID          int64     `json:"id"          example:"1"`
	Name        string    `json:"name"        example:"alice"`
	HasUploaded bool      `json:"hasUploaded" example:"false"`
	Token       string    `json:"token"       example:"eyJhbGciOiJIUzI1NiIs..."`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// MeResponse is the current identity and its session window.
type MeResponse struct {
	ID          int64     `json:"id"          example:"1"`
	Name        string    `json:"name"        example:"alice"`
	HasUploaded bool      `json:"hasUploaded" example:"true"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Verifies a name/password pair and opens a session. The token goes in `Authorization: Bearer <token>` on later calls.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.LoginRequest  true  "Credentials"
// @Success     200   {object}  handlers.LoginResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Missing name or password"
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     429   {object}  handlers.ErrorResponse  "Too many attempts"
// @Failure     500   {object}  handlers.ErrorResponse  "Record store unavailable"
// @Router      /login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Name, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrMalformedRequest):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and password are required")
		return
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid name or password")
		return
	case errors.Is(err, services.ErrStoreUnavailable):
		fail(c, http.StatusInternalServerError, ErrCodeStoreUnavailable, "record store unavailable")
		return
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "login failed")
		return
	}

	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, LoginResponse{
		ID:          res.Identity.ID,
		Name:        res.Identity.Name,
		HasUploaded: res.Identity.HasUploaded,
		Token:       res.Token,
		IssuedAt:    res.Session.IssuedAt,
		ExpiresAt:   res.Session.ExpiresAt,
	})
}

// Logout godoc
// @ID          logout
// @Summary     Log out
// @Description Revokes the current session and discards its conversation. Repeating the call with the same token returns 401.
// @Tags        Sessions
// @Security    BearerAuth
// @Success     204  {string}  string  "No Content"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid session"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /logout [post]
func (h *Handlers) Logout(c *gin.Context) {
	sess, _, found := middleware.SessionFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "session required")
		return
	}
	if err := h.auth.Logout(c.Request.Context(), sess); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "logout failed")
		return
	}
	noContent(c)
}

// Me godoc
// @ID          me
// @Summary     Current identity
// @Description Returns the session owner, including the current hasUploaded flag.
// @Tags        Sessions
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.MeResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid session"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /me [get]
func (h *Handlers) Me(c *gin.Context) {
	sess, _, found := middleware.SessionFrom(c)
	if !found {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "session required")
		return
	}
	id, err := h.auth.Me(c.Request.Context(), sess)
	if err != nil {
		if errors.Is(err, services.ErrSessionInvalid) {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "session invalid or expired")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load identity")
		return
	}
	ok(c, http.StatusOK, MeResponse{
		ID:          id.ID,
		Name:        id.Name,
		HasUploaded: id.HasUploaded,
		IssuedAt:    sess.IssuedAt,
		ExpiresAt:   sess.ExpiresAt,
	})
}
