package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// Apology is the answer used whenever the answering webhook cannot produce one.
const Apology = "Sorry, I couldn't get an answer right now."

// AnswerClient posts questions as JSON to the answering webhook.
type AnswerClient struct {
	URL  string
	HTTP *http.Client
}

// NewAnswerClient builds an AnswerClient for url.
func NewAnswerClient(url string, timeout time.Duration) *AnswerClient {
	return &AnswerClient{URL: url, HTTP: NewHTTPClient(timeout)}
}

// Question is the payload sent to the answering webhook.
type Question struct {
	Question    string              `json:"question"`
	Name        string              `json:"name"`
	ID          int64               `json:"id"`
	Attachments []domain.Attachment `json:"attachments"`
}

// Ask posts q and returns the raw webhook response.
func (c *AnswerClient) Ask(ctx context.Context, q Question) (*Response, error) {
	if q.Attachments == nil {
		q.Attachments = []domain.Attachment{}
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode question: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return do(ctx, c.HTTP, EndpointAnswer, req)
}

// ExtractAnswer picks the text to show for a webhook reply, in order: the
// "answer" field, the "message" field, the whole JSON body re-encoded, the raw
// text body. A nil or non-2xx response, or an empty body, yields Apology with
// fallback set. The result is never empty.
func ExtractAnswer(res *Response) (answer string, fallback bool) {
	if !res.OK() {
		return Apology, true
	}
	raw := bytes.TrimSpace(res.Body)
	if len(raw) == 0 {
		return Apology, true
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw), false
	}
	if obj, ok := v.(map[string]any); ok {
		for _, k := range []string{"answer", "message"} {
			if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
				return s, false
			}
		}
	}
	if v == nil {
		return Apology, true
	}
	if s, ok := v.(string); ok {
		if strings.TrimSpace(s) == "" {
			return Apology, true
		}
		return s, false
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw), false
	}
	return buf.String(), false
}
