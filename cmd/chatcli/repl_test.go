package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-chat-relay/internal/client"
	"github.com/tbourn/go-chat-relay/internal/domain"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	var uploaded atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"code":"unauthorized","message":"invalid name or password"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": 3, "name": in["name"], "hasUploaded": uploaded.Load(), "token": "t",
			"expiresAt": time.Now().Add(time.Hour),
		})
	})
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		uploaded.Store(true)
		_, _ = io.WriteString(w, `{"url":"https://files/x.png"}`)
	})
	mux.HandleFunc("POST /ask", func(w http.ResponseWriter, r *http.Request) {
		if !uploaded.Load() {
			w.WriteHeader(http.StatusForbidden)
			_, _ = io.WriteString(w, `{"code":"upload_required","message":"upload a file before asking"}`)
			return
		}
		_, _ = io.WriteString(w, `{"answer":"forty-two","messageId":"m","upstreamStatus":200}`)
	})
	mux.HandleFunc("POST /logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, input string) (*app, *bytes.Buffer) {
	t.Helper()
	srv := fakeServer(t)
	store, err := client.OpenSessionStore("")
	require.NoError(t, err)
	api := client.New(srv.URL, store)
	out := &bytes.Buffer{}
	return &app{
		api:  api,
		chat: client.NewChat(api),
		in:   bufio.NewReader(strings.NewReader(input)),
		out:  out,
	}, out
}

func stubPassword(t *testing.T, pw string) {
	t.Helper()
	orig := readPassword
	readPassword = func(int) ([]byte, error) { return []byte(pw), nil }
	t.Cleanup(func() { readPassword = orig })
}

func TestREPL_LoginUploadAsk(t *testing.T) {
	stubPassword(t, "pw")
	dir := t.TempDir()
	img := dir + "/x.png"
	require.NoError(t, writeTestFile(img))

	a, out := newTestApp(t, strings.Join([]string{
		"hello before login",
		"/login",
		"alice",
		"what now?",
		"/upload " + img,
		"what is 6 times 7?",
		"/logout",
		"/quit",
		"never read",
	}, "\n")+"\n")

	require.NoError(t, a.run(context.Background()))
	s := out.String()
	assert.Contains(t, s, "Log in first with /login.")
	assert.Contains(t, s, "Hello alice. Upload a file")
	assert.Contains(t, s, "Upload a file with /upload <path> before chatting.")
	assert.Contains(t, s, "Chat unlocked.")
	assert.Contains(t, s, "AI: forty-two")
	assert.Contains(t, s, "Logged out.")

	_, ok := a.api.Store.Current()
	assert.False(t, ok)
}

func TestREPL_BadPasswordAndUnknownCommand(t *testing.T) {
	stubPassword(t, "nope")
	a, out := newTestApp(t, "/login\nalice\n/frobnicate\n/upload\n")

	require.NoError(t, a.run(context.Background()))
	s := out.String()
	assert.Contains(t, s, "Error: invalid name or password")
	assert.Contains(t, s, "Unknown command /frobnicate")
	assert.Contains(t, s, "Usage: /upload <path>")
}

func TestREPL_AttachMissingFile(t *testing.T) {
	a, out := newTestApp(t, "/attach /definitely/not/here.png\n")
	require.NoError(t, a.run(context.Background()))
	assert.Contains(t, out.String(), "Error:")
	assert.Empty(t, a.pending)
}

func writeTestFile(path string) error {
	return os.WriteFile(path, []byte("\x89PNG"), 0o600)
}

func TestREPL_ServerUploadGateResetsLocalFlag(t *testing.T) {
	a, out := newTestApp(t, "is anyone there?\n")
	require.NoError(t, a.api.Store.Save(client.Session{
		Identity:  domain.Identity{ID: 3, Name: "alice", HasUploaded: true},
		Token:     "t",
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	require.NoError(t, a.run(context.Background()))
	s := out.String()
	assert.Contains(t, s, "AI: "+client.RejectedReply)
	assert.Contains(t, s, "Use /upload <path> first.")
	assert.NotContains(t, s, "upload a file before asking")

	cur, ok := a.api.Store.Current()
	require.True(t, ok)
	assert.False(t, cur.Identity.HasUploaded)
}
