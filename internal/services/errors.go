// Package services defines the business logic for logging in, relaying
// uploads and questions, and reading the per-session conversation.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-chat-relay/internal/webhook"
)

// Credential and session errors.
var (
	// ErrMalformedRequest is returned when required input is missing.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrInvalidCredentials is returned when no record matches the name and
	// password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrStoreUnavailable wraps record store failures during login.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrSessionInvalid is returned for unknown, expired, revoked or
	// tampered session tokens.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrIdentityMismatch is returned when a request names an id or name that
	// differs from the authenticated session.
	ErrIdentityMismatch = errors.New("identity does not match session")
)

// Relay errors.
var (
	// ErrUnsupportedMediaType is returned when an upload is not one of the
	// accepted image or audio types.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrUpstreamUnreachable is returned when a webhook could not be reached.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrUploadStateFailed is returned when the file was stored upstream but
	// the has-uploaded flag could not be recorded.
	ErrUploadStateFailed = errors.New("upload state update failed")

	// ErrUploadRequired is returned when a user who has not uploaded yet asks
	// a question.
	ErrUploadRequired = errors.New("an upload is required before asking")

	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrQuestionTooLong is returned when a question exceeds the configured limit.
	ErrQuestionTooLong = errors.New("question too long")

	// ErrInvalidAttachment is returned for an attachment with an unknown kind
	// or an empty URL.
	ErrInvalidAttachment = errors.New("invalid attachment")
)

// UpstreamError carries a non-2xx webhook reply that must be passed through
// to the caller verbatim.
type UpstreamError struct {
	Response *webhook.Response
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Response.Status)
}
