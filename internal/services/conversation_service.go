// Package services – ConversationService
//
// Read access to the per-session transcript written by QuestionService.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-relay/internal/domain"
	"github.com/tbourn/go-chat-relay/internal/repo"
	"github.com/tbourn/go-chat-relay/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ConversationService lists transcript messages.
type ConversationService struct {
	DB *gorm.DB
}

// ListPage returns messages of a session oldest first, with the total count.
func (s *ConversationService) ListPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.ConversationMessage, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if pageSize <= 0 {
		pageSize = utils.DefaultPageSize
	}
	offset := utils.Offset(page, pageSize)

	total, err := repo.CountMessages(s.DB.WithContext(ctx), sessionID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ConversationMessage{}, 0, nil
	}
	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), sessionID, offset, pageSize)
	return items, total, err
}

// Stats returns the message count and latest update time for ETag generation.
func (s *ConversationService) Stats(ctx context.Context, sessionID string) (int64, *time.Time, error) {
	return repo.ConversationStats(ctx, s.DB, sessionID)
}
