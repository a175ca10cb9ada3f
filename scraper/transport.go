package scraper

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aluiziolira/go-resale-estimator/config"
)

// maxDrainBytes bounds how much of a discarded response body is read so the
// connection can be reused.
const maxDrainBytes = 64 << 10

// RetryTransport is the process-scoped round tripper shared by every
// channel. It retries transient status codes with exponential backoff.
type RetryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
	backoffMax time.Duration
	metrics    *Metrics
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewTransport wraps base with the retry policy from cfg. A nil base gets a
// pooled http.Transport.
func NewTransport(base http.RoundTripper, cfg *config.Config, metrics *Metrics) *RetryTransport {
	if base == nil {
		base = newBaseTransport()
	}
	return &RetryTransport{
		base:       base,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		backoffMax: cfg.RetryBackoffMax,
		metrics:    metrics,
		sleep:      sleepContext,
	}
}

func newBaseTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req)
		if err != nil || !retryableStatus(resp.StatusCode) || attempt >= t.maxRetries || !replayable(req) {
			return resp, err
		}

		drain(resp.Body)
		delay := t.backoffFor(attempt + 1)
		t.metrics.IncRetries()
		slog.Debug("transient upstream status, retrying",
			slog.String("url", req.URL.String()),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		if err := t.sleep(req.Context(), delay); err != nil {
			return nil, err
		}

		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req = req.Clone(req.Context())
			req.Body = body
		}
	}
}

func (t *RetryTransport) backoffFor(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := t.backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := t.backoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, body, maxDrainBytes)
	body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
