package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

func TestAnswerClient_Ask_Payload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"answer":"42"}`))
	}))
	defer srv.Close()

	res, err := NewAnswerClient(srv.URL, 0).Ask(context.Background(), Question{
		Question: "meaning?",
		Name:     "alice",
		ID:       1,
		Attachments: []domain.Attachment{
			{Kind: domain.AttachmentImage, URL: "https://f/a.png"},
		},
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got["question"] != "meaning?" || got["name"] != "alice" || got["id"] != float64(1) {
		t.Fatalf("unexpected payload: %v", got)
	}
	atts, _ := got["attachments"].([]any)
	if len(atts) != 1 {
		t.Fatalf("attachments not relayed: %v", got["attachments"])
	}
	if a, fb := ExtractAnswer(res); a != "42" || fb {
		t.Fatalf("ExtractAnswer = %q, %v", a, fb)
	}
}

func TestAnswerClient_Ask_EmptyAttachmentsEncodedAsArray(t *testing.T) {
	var raw json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Attachments json.RawMessage `json:"attachments"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		raw = body.Attachments
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if _, err := NewAnswerClient(srv.URL, 0).Ask(context.Background(), Question{Question: "q"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if string(raw) != "[]" {
		t.Fatalf("attachments = %s, want []", raw)
	}
}

func TestAnswerClient_Ask_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	res, err := NewAnswerClient(url, 0).Ask(context.Background(), Question{Question: "q"})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if a, fb := ExtractAnswer(res); a != Apology || !fb {
		t.Fatalf("unreachable should yield apology, got %q %v", a, fb)
	}
}

func TestExtractAnswer(t *testing.T) {
	cases := []struct {
		name     string
		res      *Response
		want     string
		fallback bool
	}{
		{"answer field", &Response{Status: 200, Body: []byte(`{"answer":"hi","message":"no"}`)}, "hi", false},
		{"message field", &Response{Status: 200, Body: []byte(`{"message":"hello"}`)}, "hello", false},
		{"blank answer falls to message", &Response{Status: 200, Body: []byte(`{"answer":"  ","message":"m"}`)}, "m", false},
		{"non-string answer uses whole body", &Response{Status: 200, Body: []byte(`{ "answer": 3 }`)}, `{"answer":3}`, false},
		{"whole body", &Response{Status: 200, Body: []byte(`{"data": [1, 2]}`)}, `{"data":[1,2]}`, false},
		{"array body", &Response{Status: 200, Body: []byte(`[1, 2]`)}, `[1,2]`, false},
		{"json string", &Response{Status: 200, Body: []byte(`"plain"`)}, "plain", false},
		{"raw text", &Response{Status: 200, Body: []byte("just text")}, "just text", false},
		{"null body", &Response{Status: 200, Body: []byte("null")}, Apology, true},
		{"empty body", &Response{Status: 204}, Apology, true},
		{"non-2xx", &Response{Status: 500, Body: []byte(`{"answer":"x"}`)}, Apology, true},
		{"nil", nil, Apology, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, fb := ExtractAnswer(tc.res)
			if got != tc.want || fb != tc.fallback {
				t.Fatalf("got (%q, %v), want (%q, %v)", got, fb, tc.want, tc.fallback)
			}
		})
	}
}
