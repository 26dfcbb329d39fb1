// Package services – QuestionService
//
// This file implements QuestionService, which relays a user's question and
// attachment references to the answering webhook and turns whatever comes
// back into a displayable answer. Upstream failures never surface as errors:
// they resolve to a fixed apology so the chat always gets an AI turn.
//
// Both turns are appended to the session transcript in one transaction.
package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/internal/domain"
	"github.com/tbourn/go-chat-relay/internal/repo"
	"github.com/tbourn/go-chat-relay/internal/webhook"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Answerer posts a question to the answering webhook.
type Answerer interface {
	Ask(ctx context.Context, q webhook.Question) (*webhook.Response, error)
}

// QuestionService relays questions and records the conversation.
type QuestionService struct {
	DB     *gorm.DB
	Answer Answerer

	// MaxQuestionRunes caps a question; 0 disables the check.
	MaxQuestionRunes int
}

// AskInput is one question from an authenticated user.
type AskInput struct {
	Session     *domain.Session
	User        *domain.User
	Question    string
	Attachments []domain.Attachment
}

// AskResult is the AI turn produced for a question.
type AskResult struct {
	Answer    string
	Fallback  bool
	MessageID string
	// UpstreamStatus is the answering webhook's status, 0 when unreachable.
	UpstreamStatus int
}

// Ask validates the question, relays it and appends both turns to the
// transcript.
func (s *QuestionService) Ask(ctx context.Context, in AskInput) (*AskResult, error) {
	tr := otel.Tracer("services/QuestionService")
	ctx, span := tr.Start(ctx, "Ask",
		trace.WithAttributes(
			attribute.String("session.id", in.Session.ID),
			attribute.Int64("user.id", in.User.ID),
			attribute.Int("attachments", len(in.Attachments)),
		),
	)
	defer span.End()

	q := strings.TrimSpace(in.Question)
	if q == "" {
		return nil, ErrEmptyQuestion
	}
	if s.MaxQuestionRunes > 0 && utf8.RuneCountInString(q) > s.MaxQuestionRunes {
		return nil, ErrQuestionTooLong
	}
	atts, err := normalizeAttachments(in.Attachments)
	if err != nil {
		return nil, err
	}
	if !in.User.HasUploaded {
		return nil, ErrUploadRequired
	}

	res, err := s.Answer.Ask(ctx, webhook.Question{
		Question:    q,
		Name:        in.User.Name,
		ID:          in.User.ID,
		Attachments: atts,
	})
	out := &AskResult{}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer unreachable")
	} else {
		out.UpstreamStatus = res.Status
	}
	out.Answer, out.Fallback = webhook.ExtractAnswer(res)
	span.SetAttributes(
		attribute.Int("upstream.status", out.UpstreamStatus),
		attribute.Bool("answer.fallback", out.Fallback),
	)

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.AppendMessage(tx, in.Session.ID, domain.RoleUser, q); err != nil {
			return err
		}
		m, err := repo.AppendMessage(tx, in.Session.ID, domain.RoleAI, out.Answer)
		if err != nil {
			return err
		}
		out.MessageID = m.ID
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// normalizeAttachments trims references and rejects unknown kinds or empty URLs.
func normalizeAttachments(in []domain.Attachment) ([]domain.Attachment, error) {
	out := make([]domain.Attachment, 0, len(in))
	for _, a := range in {
		a.Kind = strings.ToLower(strings.TrimSpace(a.Kind))
		a.URL = strings.TrimSpace(a.URL)
		if !domain.ValidAttachmentKind(a.Kind) || a.URL == "" {
			return nil, ErrInvalidAttachment
		}
		out = append(out, a)
	}
	return out, nil
}
