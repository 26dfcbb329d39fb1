package client

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

func TestAttachmentKind(t *testing.T) {
	cases := map[string]string{
		"image/png":       domain.AttachmentImage,
		"IMAGE/JPEG":      domain.AttachmentImage,
		"audio/mpeg":      domain.AttachmentAudio,
		"application/pdf": "",
		"text/plain":      "",
		"":                "",
	}
	for in, want := range cases {
		assert.Equal(t, want, AttachmentKind(in), in)
	}
}

func loggedInChat(t *testing.T, f *fakeRelay) *Chat {
	t.Helper()
	c, _ := newFakeClient(t, f)
	_, err := c.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	return NewChat(c)
}

func TestChat_SendCollectsAttachments(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		f := &fakeRelay{uploadURL: func(name string) string {
			if name == "nourl.png" {
				return ""
			}
			return "https://files/" + name
		}}
		ch := loggedInChat(t, f)
		ch.Concurrent = concurrent

		files := []string{
			writeFile(t, "a.png", "x"),
			writeFile(t, "doc.pdf", "x"),
			writeFile(t, "broken.png", "x"),
			writeFile(t, "nourl.png", "x"),
			writeFile(t, "b.mp3", "x"),
		}
		msg, err := ch.Send(context.Background(), "  what is this?  ", files)
		require.NoError(t, err)
		assert.Equal(t, "echo: what is this?", msg.Content)

		assert.EqualValues(t, 4, f.uploads.Load(), "pdf is never uploaded")
		asked := f.questions()
		require.Len(t, asked, 1)
		assert.Equal(t, []any{
			map[string]any{"kind": "image", "url": "https://files/a.png"},
			map[string]any{"kind": "audio", "url": "https://files/b.mp3"},
		}, asked[0]["attachments"], "concurrent=%v", concurrent)

		msgs := ch.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, domain.RoleUser, msgs[0].Role)
		assert.Equal(t, "what is this?", msgs[0].Content)
		assert.Equal(t, domain.RoleAI, msgs[1].Role)
	}
}

func TestChat_BlankInputIgnored(t *testing.T) {
	f := &fakeRelay{}
	ch := loggedInChat(t, f)
	msg, err := ch.Send(context.Background(), "   ", nil)
	require.NoError(t, err)
	assert.Empty(t, msg.Content)
	assert.Empty(t, ch.Messages())
	assert.Empty(t, f.questions())
}

func TestChat_RelayRejectionShowsApology(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"upload required", http.StatusForbidden, `{"code":"upload_required","message":"upload a file before asking"}`},
		{"internal error", http.StatusInternalServerError, `{"code":"internal_error","message":"could not record the conversation"}`},
		{"bare status", http.StatusBadGateway, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeRelay{askStatus: tc.status, askBody: tc.body}
			ch := loggedInChat(t, f)

			msg, err := ch.Send(context.Background(), "hi", nil)
			assert.True(t, IsStatus(err, tc.status), "error keeps the relay status")
			assert.Equal(t, RejectedReply, msg.Content)
			assert.Equal(t, domain.RoleAI, msg.Role)

			msgs := ch.Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, RejectedReply, msgs[1].Content)
		})
	}
}

func TestChat_MessageIDsUnique(t *testing.T) {
	f := &fakeRelay{}
	ch := loggedInChat(t, f)
	for _, q := range []string{"one", "two", "three"} {
		_, err := ch.Send(context.Background(), q, nil)
		require.NoError(t, err)
	}

	msgs := ch.Messages()
	require.Len(t, msgs, 6)
	seen := map[string]bool{}
	for _, m := range msgs {
		require.NotEmpty(t, m.ID)
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
}

func TestChat_TransportFailureApology(t *testing.T) {
	f := &fakeRelay{}
	ch := loggedInChat(t, f)
	ch.API.BaseURL = "http://127.0.0.1:1"

	msg, err := ch.Send(context.Background(), "hi", nil)
	assert.Error(t, err)
	assert.Equal(t, TransportErrorReply, msg.Content)
	assert.Equal(t, domain.RoleAI, ch.Messages()[1].Role)
}
