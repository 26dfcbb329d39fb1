package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// IngestClient forwards a single file to the ingestion webhook as
// multipart/form-data with the fields id, name and file.
type IngestClient struct {
	URL  string
	HTTP *http.Client
}

// NewIngestClient builds an IngestClient for url.
func NewIngestClient(url string, timeout time.Duration) *IngestClient {
	return &IngestClient{URL: url, HTTP: NewHTTPClient(timeout)}
}

// IngestFile is one file to relay on behalf of a user.
type IngestFile struct {
	UserID    int64
	UserName  string
	Filename  string
	MediaType string
	Content   io.Reader
}

// Send streams f to the ingestion webhook. The multipart body is produced
// through a pipe so the file is never held in memory twice.
func (c *IngestClient) Send(ctx context.Context, f IngestFile) (*Response, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeIngestForm(mw, f))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, pr)
	if err != nil {
		_ = pr.Close()
		return nil, fmt.Errorf("build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return do(ctx, c.HTTP, EndpointIngest, req)
}

func writeIngestForm(mw *multipart.Writer, f IngestFile) error {
	if err := mw.WriteField("id", strconv.FormatInt(f.UserID, 10)); err != nil {
		return err
	}
	if err := mw.WriteField("name", f.UserName); err != nil {
		return err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(f.Filename)))
	ct := f.MediaType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f.Content); err != nil {
		return err
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

// AttachmentURL returns the "url" field of a JSON ingestion reply, or "".
func AttachmentURL(body []byte) string {
	var v struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return ""
	}
	return strings.TrimSpace(v.URL)
}
