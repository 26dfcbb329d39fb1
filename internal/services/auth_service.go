// Package services – AuthService
//
// This file implements AuthService, which verifies credentials, issues
// server-side sessions with a signed bearer token, authenticates tokens on
// every protected request, and ends sessions on logout.
//
// Passwords are stored as bcrypt hashes. Names are compared after Unicode NFC
// normalization so visually identical names typed on different keyboards
// resolve to the same record. Names are not unique; a login succeeds when any
// record with that name carries a matching hash.
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/internal/domain"
	"github.com/tbourn/go-chat-relay/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AuthService issues and checks login sessions.
type AuthService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Secret signs session tokens (HS256).
	Secret []byte
	// Issuer is stamped into and required from every token.
	Issuer string
	// TTL is the session lifetime.
	TTL time.Duration

	now func() time.Time
}

// NewAuthService constructs an AuthService. A zero ttl defaults to 24h.
func NewAuthService(db *gorm.DB, secret []byte, issuer string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{DB: db, Secret: secret, Issuer: issuer, TTL: ttl, now: time.Now}
}

// LoginResult is what a successful login hands back to the transport layer.
type LoginResult struct {
	Identity domain.Identity
	Session  *domain.Session
	Token    string
}

// sessionClaims are the JWT claims of a bearer token. The token ID is the
// server-side session ID.
type sessionClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// NormalizeName trims and NFC-normalizes a login name.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// HashPassword returns a bcrypt hash of password at cost.
func HashPassword(password string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Login verifies (name, password) and opens a new session.
func (s *AuthService) Login(ctx context.Context, name, password string) (*LoginResult, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Login")
	defer span.End()

	name = NormalizeName(name)
	if name == "" || strings.TrimSpace(password) == "" {
		return nil, ErrMalformedRequest
	}

	users, err := repo.FindUsersByName(ctx, s.DB, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var match *domain.User
	for i := range users {
		if bcrypt.CompareHashAndPassword([]byte(users[i].PasswordHash), []byte(password)) == nil {
			match = &users[i]
			break
		}
	}
	if match == nil {
		return nil, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.Int64("user.id", match.ID))

	sess, err := repo.CreateSession(ctx, s.DB, match.ID, s.TTL)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	tok, err := s.sign(sess, match.Name)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Identity: match.Identity(), Session: sess, Token: tok}, nil
}

func (s *AuthService) sign(sess *domain.Session, name string) (string, error) {
	claims := sessionClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   strconv.FormatInt(sess.UserID, 10),
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return tok, nil
}

// Authenticate resolves a bearer token to its live session and owner.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.Session, *domain.User, error) {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Authenticate")
	defer span.End()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, ErrSessionInvalid
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil || claims.ID == "" {
		return nil, nil, ErrSessionInvalid
	}

	sess, err := repo.GetSession(ctx, s.DB, claims.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrSessionInvalid
		}
		return nil, nil, err
	}
	if !sess.Active(s.clock()) || strconv.FormatInt(sess.UserID, 10) != claims.Subject {
		return nil, nil, ErrSessionInvalid
	}

	u, err := repo.GetUser(ctx, s.DB, sess.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil, ErrSessionInvalid
		}
		return nil, nil, err
	}
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Int64("user.id", u.ID),
	)
	return sess, u, nil
}

// Logout revokes sess and drops its conversation transcript. Logging out an
// already revoked session succeeds.
func (s *AuthService) Logout(ctx context.Context, sess *domain.Session) error {
	tr := otel.Tracer("services/AuthService")
	ctx, span := tr.Start(ctx, "Logout",
		trace.WithAttributes(attribute.String("session.id", sess.ID)),
	)
	defer span.End()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.RevokeSession(ctx, tx, sess.ID, s.clock().UTC()); err != nil {
			return err
		}
		_, err := repo.DeleteMessages(tx, sess.ID)
		return err
	})
}

// Me reloads the current identity of the session owner.
func (s *AuthService) Me(ctx context.Context, sess *domain.Session) (domain.Identity, error) {
	u, err := repo.GetUser(ctx, s.DB, sess.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Identity{}, ErrSessionInvalid
		}
		return domain.Identity{}, err
	}
	return u.Identity(), nil
}

func (s *AuthService) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}
