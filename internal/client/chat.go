package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-chat-relay/internal/domain"
	"github.com/tbourn/go-chat-relay/internal/webhook"
)

// Assistant turns used when no answer could be shown. TransportErrorReply
// covers a relay that cannot be reached; RejectedReply covers any non-2xx
// reply from it. The underlying error is returned to the caller, never shown
// as the turn.
const (
	TransportErrorReply = "Error talking to the assistant."
	RejectedReply       = webhook.Apology
)

// ChatMessage is one turn of the local transcript.
type ChatMessage struct {
	ID      string
	Role    string
	Content string
	At      time.Time
}

// Chat keeps a transcript and turns user input into uploads plus a question.
type Chat struct {
	API *Client
	// Concurrent uploads all attachments at once instead of one by one.
	Concurrent bool

	mu       sync.Mutex
	messages []ChatMessage
}

// NewChat returns a Chat bound to api.
func NewChat(api *Client) *Chat { return &Chat{API: api} }

// AttachmentKind maps a media type to an attachment kind, "" when the file
// cannot be attached.
func AttachmentKind(mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return domain.AttachmentImage
	case strings.HasPrefix(mt, "audio/"):
		return domain.AttachmentAudio
	}
	return ""
}

// Send records the user turn, uploads the attachable files among files, asks
// the question and records the answer. Blank text is ignored. Files that fail
// to upload or come back without a URL are left out of the question.
func (ch *Chat) Send(ctx context.Context, text string, files []string) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, nil
	}
	ch.append(domain.RoleUser, text)

	atts := ch.uploadAll(ctx, files)

	reply, err := ch.API.Ask(ctx, text, atts)
	if err != nil {
		var ae *APIError
		if errors.As(err, &ae) {
			return ch.append(domain.RoleAI, RejectedReply), err
		}
		return ch.append(domain.RoleAI, TransportErrorReply), err
	}
	return ch.append(domain.RoleAI, reply.Answer), nil
}

// Messages returns a copy of the transcript.
func (ch *Chat) Messages() []ChatMessage {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]ChatMessage, len(ch.messages))
	copy(out, ch.messages)
	return out
}

func (ch *Chat) append(role, content string) ChatMessage {
	m := ChatMessage{ID: uuid.NewString(), Role: role, Content: content, At: time.Now()}
	ch.mu.Lock()
	ch.messages = append(ch.messages, m)
	ch.mu.Unlock()
	return m
}

// uploadAll keeps input order in the result regardless of Concurrent.
func (ch *Chat) uploadAll(ctx context.Context, files []string) []domain.Attachment {
	slots := make([]domain.Attachment, len(files))
	one := func(i int) {
		kind := AttachmentKind(mediaTypeOf(files[i]))
		if kind == "" {
			return
		}
		res, err := ch.API.Upload(ctx, files[i])
		if err != nil || res.AttachmentURL == "" {
			return
		}
		slots[i] = domain.Attachment{Kind: kind, URL: res.AttachmentURL}
	}

	if ch.Concurrent {
		var g errgroup.Group
		for i := range files {
			g.Go(func() error { one(i); return nil })
		}
		_ = g.Wait()
	} else {
		for i := range files {
			one(i)
		}
	}

	out := make([]domain.Attachment, 0, len(files))
	for _, a := range slots {
		if a.URL != "" {
			out = append(out, a)
		}
	}
	return out
}
