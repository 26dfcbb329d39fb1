// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves bearer tokens into sessions. ResolveSession runs for
// every request and only annotates the context; RequireSession guards the
// routes that need a caller. Splitting the two lets the idempotency and rate
// limiting middleware key on the user before the route's own handlers run.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

const (
	ctxKeyUserID     = "userID"
	ctxKeySession    = "auth.session"
	ctxKeyUser       = "auth.user"
	ctxKeySessionErr = "auth.err"
	authorizationHdr = "Authorization"
	bearerPrefix     = "bearer "
)

// Authenticator resolves a bearer token to its session and owner.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Session, *domain.User, error)
}

// errNoToken marks a request that carried no bearer token.
var errNoToken = errors.New("missing bearer token")

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get(authorizationHdr))
	if len(h) < len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(h[len(bearerPrefix):])
}

// ResolveSession authenticates the bearer token when one is present and
// stores the session, the user and the user ID in the context. Requests
// without a valid token pass through unannotated.
func ResolveSession(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := BearerToken(c.Request)
		if tok == "" {
			c.Set(ctxKeySessionErr, errNoToken)
			c.Next()
			return
		}
		sess, u, err := a.Authenticate(c.Request.Context(), tok)
		if err != nil {
			c.Set(ctxKeySessionErr, err)
			c.Next()
			return
		}
		c.Set(ctxKeySession, sess)
		c.Set(ctxKeyUser, u)
		c.Set(ctxKeyUserID, strconv.FormatInt(u.ID, 10))
		c.Next()
	}
}

// RequireSession aborts with 401 unless ResolveSession attached a session.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, _, ok := SessionFrom(c); ok {
			c.Next()
			return
		}
		msg := "session invalid or expired"
		if v, ok := c.Get(ctxKeySessionErr); ok && v == errNoToken {
			msg = "missing bearer token"
		}
		c.Header("WWW-Authenticate", `Bearer realm="chat-relay"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "unauthorized",
			"message":    msg,
		})
	}
}

// SessionFrom returns the session and user attached by ResolveSession.
func SessionFrom(c *gin.Context) (*domain.Session, *domain.User, bool) {
	sv, ok := c.Get(ctxKeySession)
	if !ok {
		return nil, nil, false
	}
	uv, ok := c.Get(ctxKeyUser)
	if !ok {
		return nil, nil, false
	}
	sess, _ := sv.(*domain.Session)
	u, _ := uv.(*domain.User)
	if sess == nil || u == nil {
		return nil, nil, false
	}
	return sess, u, true
}
