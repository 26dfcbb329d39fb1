// Package services – UploadService
//
// This file implements UploadService, which relays a single user file to the
// ingestion webhook and records the outcome. A 2xx from ingestion stores an
// audit row and sets the user's has-uploaded flag inside one transaction; a
// failed flag update is reported instead of being swallowed.
//
// Files are checked before relaying: the declared media type and the sniffed
// content type must agree and belong to the accepted image/audio set.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/internal/domain"
	"github.com/tbourn/go-chat-relay/internal/repo"
	"github.com/tbourn/go-chat-relay/internal/utils"
	"github.com/tbourn/go-chat-relay/internal/webhook"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AllowedMediaTypes are the upload types accepted by the relay.
var AllowedMediaTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"audio/mpeg": {},
	"audio/wav":  {},
}

// Ingester forwards a file to the ingestion webhook.
type Ingester interface {
	Send(ctx context.Context, f webhook.IngestFile) (*webhook.Response, error)
}

// UploadService relays uploads and keeps the has-uploaded flag in step.
type UploadService struct {
	DB     *gorm.DB
	Ingest Ingester
	// IdempotencyTTL is how long an Idempotency-Key replays its first upload.
	IdempotencyTTL time.Duration
}

// UploadInput is one file posted by an authenticated user.
type UploadInput struct {
	Session        *domain.Session
	User           *domain.User
	Filename       string
	DeclaredType   string
	Content        io.Reader
	IdempotencyKey string
}

// UploadResult describes a stored upload. Upstream is nil when the result was
// replayed from an earlier request with the same idempotency key.
type UploadResult struct {
	Upload   *domain.Upload
	Upstream *webhook.Response
	Replayed bool
}

// Upload validates, relays and records a file.
//
// Errors:
//   - ErrMalformedRequest: no content or filename
//   - ErrUnsupportedMediaType: type outside AllowedMediaTypes or declared/sniffed mismatch
//   - ErrUpstreamUnreachable: the ingestion webhook could not be reached
//   - *UpstreamError: ingestion answered non-2xx
//   - ErrUploadStateFailed: stored upstream, but the flag update failed
func (s *UploadService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	tr := otel.Tracer("services/UploadService")
	ctx, span := tr.Start(ctx, "Upload",
		trace.WithAttributes(
			attribute.Int64("user.id", in.User.ID),
			attribute.String("upload.filename", in.Filename),
		),
	)
	defer span.End()

	if in.Content == nil || strings.TrimSpace(in.Filename) == "" {
		return nil, ErrMalformedRequest
	}

	uid := strconv.FormatInt(in.User.ID, 10)
	if in.IdempotencyKey != "" {
		if res, ok := s.replay(ctx, uid, in.IdempotencyKey); ok {
			span.SetAttributes(attribute.Bool("upload.replayed", true))
			return res, nil
		}
	}

	head, mediaType, err := detectMediaType(in.Content, in.DeclaredType)
	if err != nil {
		if errors.Is(err, ErrUnsupportedMediaType) {
			s.record(ctx, in, mediaTypeOrDeclared(in.DeclaredType), 0, domain.UploadRejected, 0)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("upload.media_type", mediaType))

	counter := &countingReader{r: io.MultiReader(bytes.NewReader(head), in.Content)}
	resp, err := s.Ingest.Send(ctx, webhook.IngestFile{
		UserID:    in.User.ID,
		UserName:  in.User.Name,
		Filename:  in.Filename,
		MediaType: mediaType,
		Content:   counter,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest unreachable")
		s.record(ctx, in, mediaType, counter.N(), domain.UploadFailed, 0)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	span.SetAttributes(attribute.Int("upstream.status", resp.Status))
	if !resp.OK() {
		s.record(ctx, in, mediaType, counter.N(), domain.UploadFailed, resp.Status)
		return nil, &UpstreamError{Response: resp}
	}

	up := &domain.Upload{
		UserID:         in.User.ID,
		SessionID:      in.Session.ID,
		Filename:       in.Filename,
		MediaType:      mediaType,
		SizeBytes:      counter.N(),
		Status:         domain.UploadStored,
		UpstreamStatus: resp.Status,
		AttachmentURL:  webhook.AttachmentURL(resp.Body),
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateUpload(ctx, tx, up); err != nil {
			return err
		}
		return repo.MarkUploaded(ctx, tx, in.User.ID, in.User.Name)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "flag update failed")
		return nil, fmt.Errorf("%w: %v", ErrUploadStateFailed, err)
	}
	in.User.HasUploaded = true

	if in.IdempotencyKey != "" && s.IdempotencyTTL > 0 {
		_, _ = repo.CreateIdempotency(ctx, s.DB, uid, domain.IdemScopeUpload, in.IdempotencyKey, up.ID, resp.Status, s.IdempotencyTTL)
	}
	return &UploadResult{Upload: up, Upstream: resp}, nil
}

// Replayable reports whether key already has a stored upload for userID.
func (s *UploadService) Replayable(ctx context.Context, userID, key string, now time.Time) bool {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, domain.IdemScopeUpload, key, now)
	return err == nil && rec != nil
}

func (s *UploadService) replay(ctx context.Context, uid, key string) (*UploadResult, bool) {
	rec, err := repo.GetIdempotency(ctx, s.DB, uid, domain.IdemScopeUpload, key, time.Now().UTC())
	if err != nil {
		return nil, false
	}
	userID, err := strconv.ParseInt(uid, 10, 64)
	if err != nil {
		return nil, false
	}
	up, err := repo.GetUpload(ctx, s.DB, rec.ResourceID, userID)
	if err != nil {
		return nil, false
	}
	return &UploadResult{Upload: up, Replayed: true}, true
}

// record writes a non-stored audit row. Failures are ignored; the caller is
// already returning an error of its own.
func (s *UploadService) record(ctx context.Context, in UploadInput, mediaType string, size int64, status string, upstream int) {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	_ = repo.CreateUpload(ctx, s.DB, &domain.Upload{
		UserID:         in.User.ID,
		SessionID:      in.Session.ID,
		Filename:       in.Filename,
		MediaType:      mediaType,
		SizeBytes:      size,
		Status:         status,
		UpstreamStatus: upstream,
	})
}

// ListPage returns a page of the user's uploads, newest first.
func (s *UploadService) ListPage(ctx context.Context, userID int64, page, pageSize int) ([]domain.Upload, int64, error) {
	tr := otel.Tracer("services/UploadService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if pageSize <= 0 {
		pageSize = utils.DefaultPageSize
	}
	total, err := repo.CountUploads(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Upload{}, 0, nil
	}
	items, err := repo.ListUploadsPage(ctx, s.DB, userID, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Stats returns the upload count and latest update time for ETag generation.
func (s *UploadService) Stats(ctx context.Context, userID int64) (int64, *time.Time, error) {
	return repo.UploadsStats(ctx, s.DB, userID)
}

// sniffLen matches the amount http.DetectContentType looks at.
const sniffLen = 512

// detectMediaType reads the head of r and returns it with the resolved media
// type. The declared type may be empty, in which case the sniffed type wins.
func detectMediaType(r io.Reader, declared string) ([]byte, string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, "", ErrMalformedRequest
	}

	sniffed := canonicalMediaType(http.DetectContentType(head))
	if sniffed == "application/octet-stream" && looksLikeMPEGFrame(head) {
		sniffed = "audio/mpeg"
	}
	if _, ok := AllowedMediaTypes[sniffed]; !ok {
		return nil, "", ErrUnsupportedMediaType
	}
	if d := mediaTypeOrDeclared(declared); d != "" && d != "application/octet-stream" && d != sniffed {
		return nil, "", ErrUnsupportedMediaType
	}
	return head, sniffed, nil
}

// mediaTypeOrDeclared strips parameters from a declared type and maps aliases.
func mediaTypeOrDeclared(declared string) string {
	if strings.TrimSpace(declared) == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return ""
	}
	return canonicalMediaType(mt)
}

// canonicalMediaType folds common aliases onto the accepted names.
func canonicalMediaType(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	mt = strings.ToLower(strings.TrimSpace(mt))
	switch mt {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return "audio/wav"
	case "audio/mp3", "audio/x-mp3", "audio/mpeg3":
		return "audio/mpeg"
	}
	return mt
}

// looksLikeMPEGFrame reports an MPEG audio frame sync at the start of b, for
// MP3 files without an ID3 tag.
func looksLikeMPEGFrame(b []byte) bool {
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}

// countingReader counts bytes read. The multipart writer reads it from its
// own goroutine, so the count is atomic.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingReader) N() int64 { return c.n.Load() }
