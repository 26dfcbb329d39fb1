// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These codes give clients a stable, machine-readable error taxonomy that
// supplements the human-readable message in ErrorResponse. Generic codes
// mirror HTTP status semantics; the relay-specific ones name the failure a
// client is expected to branch on (for example upload_required sends the user
// back to the upload step).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "identity_mismatch",
//	  "message": "id or name does not match the session"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeIdentityMismatch     = "identity_mismatch"
	ErrCodeUploadRequired       = "upload_required"
	ErrCodeUnsupportedMediaType = "unsupported_media_type"
	ErrCodePayloadTooLarge      = "payload_too_large"
	ErrCodeUpstreamUnreachable  = "upstream_unreachable"
	ErrCodeUploadStateFailed    = "upload_state_failed"
	ErrCodeStoreUnavailable     = "store_unavailable"
	ErrCodeListFailed           = "list_failed"
)
