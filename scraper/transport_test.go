package scraper

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-resale-estimator/config"
)

func sequenceResponder(statuses ...int) (httpmock.Responder, *int) {
	calls := 0
	return func(*http.Request) (*http.Response, error) {
		status := statuses[len(statuses)-1]
		if calls < len(statuses) {
			status = statuses[calls]
		}
		calls++
		return httpmock.NewStringResponse(status, "body"), nil
	}, &calls
}

func newTestTransport(t *testing.T, cfg *config.Config, mock http.RoundTripper) (*RetryTransport, *[]time.Duration) {
	t.Helper()
	rt := NewTransport(mock, cfg, NewMetrics())
	var delays []time.Duration
	rt.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return rt, &delays
}

func TestRetryTransportRetriesTransientStatus(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCalls int
		wantFinal int
	}{
		{name: "503 then ok", statuses: []int{503, 200}, wantCalls: 2, wantFinal: 200},
		{name: "429 502 504 then ok", statuses: []int{429, 502, 504, 200}, wantCalls: 4, wantFinal: 200},
		{name: "gives up after max retries", statuses: []int{503}, wantCalls: 4, wantFinal: 503},
		{name: "500 is not retried", statuses: []int{500, 200}, wantCalls: 1, wantFinal: 500},
		{name: "404 is not retried", statuses: []int{404}, wantCalls: 1, wantFinal: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.MaxRetries = 3

			mock := httpmock.NewMockTransport()
			responder, calls := sequenceResponder(tt.statuses...)
			mock.RegisterResponder(http.MethodGet, "http://example.test/page", responder)

			rt, _ := newTestTransport(t, cfg, mock)
			client := &http.Client{Transport: rt}

			resp, err := client.Get("http://example.test/page")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.wantFinal {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantFinal)
			}
			if *calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", *calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryTransportBackoffDoublesAndCaps(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 3
	cfg.RetryBackoff = 100 * time.Millisecond
	cfg.RetryBackoffMax = 250 * time.Millisecond

	mock := httpmock.NewMockTransport()
	responder, _ := sequenceResponder(503)
	mock.RegisterResponder(http.MethodGet, "http://example.test/page", responder)

	rt, delays := newTestTransport(t, cfg, mock)
	resp, err := (&http.Client{Transport: rt}).Get("http://example.test/page")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delays = %v, want %v", *delays, want)
		}
	}
}

func TestRetryTransportStopsWhenSleepInterrupted(t *testing.T) {
	cfg := config.DefaultConfig()
	mock := httpmock.NewMockTransport()
	responder, calls := sequenceResponder(503)
	mock.RegisterResponder(http.MethodGet, "http://example.test/page", responder)

	rt := NewTransport(mock, cfg, nil)
	rt.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	req, err := http.NewRequest(http.MethodGet, "http://example.test/page", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if _, err := rt.RoundTrip(req); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if *calls != 1 {
		t.Fatalf("calls = %d, want 1", *calls)
	}
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
