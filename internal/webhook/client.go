// Package webhook contains the outbound clients that relay requests to the
// ingestion and answering webhooks. Both clients share one transport
// instrumented with OpenTelemetry and report per-endpoint Prometheus metrics.
//
// A transport failure (DNS, refused connection, timeout) is reported as
// ErrUnreachable. Any HTTP response, whatever its status, is returned as a
// Response so callers can pass it through verbatim.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrUnreachable wraps transport-level failures talking to a webhook.
var ErrUnreachable = errors.New("upstream unreachable")

// maxResponseBytes caps how much of a webhook response is buffered.
const maxResponseBytes = 10 << 20

// Endpoint labels used in metrics and spans.
const (
	EndpointIngest = "ingest"
	EndpointAnswer = "answer"
)

var (
	upstreamReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_upstream_requests_total",
			Help: "Total number of relayed webhook calls by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	upstreamLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_upstream_duration_seconds",
			Help:    "Duration of relayed webhook calls in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(upstreamReqs, upstreamLat)
}

// Response is a buffered webhook reply.
type Response struct {
	Status      int
	Body        []byte
	ContentType string
}

// OK reports whether the webhook answered with a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// NewHTTPClient returns an http.Client with an otelhttp transport. A zero
// timeout leaves the client without a deadline; callers still bound each call
// with their request context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   timeout,
	}
}

// do sends req and buffers the response, recording metrics under endpoint.
func do(ctx context.Context, hc *http.Client, endpoint string, req *http.Request) (*Response, error) {
	start := time.Now()
	defer func() { upstreamLat.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	res, err := hc.Do(req.WithContext(ctx))
	if err != nil {
		upstreamReqs.WithLabelValues(endpoint, "unreachable").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, endpoint, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		upstreamReqs.WithLabelValues(endpoint, "unreachable").Inc()
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrUnreachable, endpoint, err)
	}

	upstreamReqs.WithLabelValues(endpoint, strconv.Itoa(res.StatusCode/100)+"xx").Inc()
	return &Response{
		Status:      res.StatusCode,
		Body:        body,
		ContentType: res.Header.Get("Content-Type"),
	}, nil
}
