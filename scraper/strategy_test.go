package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-resale-estimator/config"
	"github.com/aluiziolira/go-resale-estimator/models"
	"github.com/aluiziolira/go-resale-estimator/parser"
)

var (
	apiPattern   = regexp.MustCompile(`^https://api\.example\.test/search`)
	pagePattern  = regexp.MustCompile(`^https://www\.example\.test/search`)
	relayPattern = regexp.MustCompile(`^https://relay\.example\.test/`)
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.APIURL = "https://api.example.test/search"
	cfg.SearchURL = "https://www.example.test/search"
	cfg.RelayPrefix = "https://relay.example.test/"
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 2 * time.Millisecond
	return cfg
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) byStage(stage Stage) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Stage == stage {
			out = append(out, ev)
		}
	}
	return out
}

func capturing(status int, body, contentType string, seen *[]*http.Request) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		*seen = append(*seen, req)
		resp := httpmock.NewStringResponse(status, body)
		resp.Header.Set("Content-Type", contentType)
		return resp, nil
	}
}

func TestAPIStrategyFetch(t *testing.T) {
	cfg := testConfig()
	mock := httpmock.NewMockTransport()
	var seen []*http.Request
	mock.RegisterRegexpResponder(http.MethodGet, apiPattern, capturing(http.StatusOK,
		`{"data":{"items":[{"price":30000},{"price":"32000"},{"price":0},{"name":"no price"},{"price":28000}]}}`,
		"application/json", &seen))

	rec := &recorder{}
	strategy := NewAPIStrategy(cfg, NewTransport(mock, cfg, nil), rec)

	prices, err := strategy.Fetch(context.Background(), "iPhone 12")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if want := (models.PriceList{30000, 32000, 28000}); !reflect.DeepEqual(prices, want) {
		t.Fatalf("prices = %v, want %v", prices, want)
	}

	if len(seen) != 1 {
		t.Fatalf("requests = %d, want 1", len(seen))
	}
	query := seen[0].URL.Query()
	if query.Get("keyword") != "iPhone 12" || query.Get("status") != "on_sale" || query.Get("limit") != "10" {
		t.Fatalf("unexpected query %q", seen[0].URL.RawQuery)
	}
	if !strings.Contains(seen[0].URL.RawQuery, "keyword=iPhone+12") {
		t.Fatalf("keyword not form-encoded: %q", seen[0].URL.RawQuery)
	}
	if ua := seen[0].Header.Get("User-Agent"); ua != cfg.MobileUserAgent {
		t.Fatalf("user agent = %q, want mobile identity", ua)
	}

	fetches := rec.byStage(StageFetch)
	if len(fetches) != 1 || fetches[0].Status != http.StatusOK || fetches[0].Channel != ChannelAPI {
		t.Fatalf("fetch events = %+v", fetches)
	}
}

func TestAPIStrategyReadsAtMostMaxJSONItems(t *testing.T) {
	cfg := testConfig()
	cfg.APILimit = 20

	var items []string
	for i := 1; i <= 12; i++ {
		items = append(items, fmt.Sprintf(`{"price":%d}`, i*1000))
	}
	body := `{"data":{"items":[` + strings.Join(items, ",") + `]}}`

	mock := httpmock.NewMockTransport()
	var seen []*http.Request
	mock.RegisterRegexpResponder(http.MethodGet, apiPattern, capturing(http.StatusOK, body, "application/json", &seen))

	strategy := NewAPIStrategy(cfg, NewTransport(mock, cfg, nil), nil)
	prices, err := strategy.Fetch(context.Background(), "camera")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(prices) != parser.MaxJSONItems || prices[len(prices)-1] != 10000 {
		t.Fatalf("prices = %v, want the first %d", prices, parser.MaxJSONItems)
	}
	if got := seen[0].URL.Query().Get("limit"); got != "20" {
		t.Fatalf("limit query = %q, want 20", got)
	}
}

func TestAPIStrategyFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantLabel string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "oops", wantLabel: "server"},
		{name: "forbidden", status: http.StatusForbidden, body: "", wantLabel: "forbidden"},
		{name: "bad json", status: http.StatusOK, body: `{"data":`, wantLabel: "parse"},
		{name: "empty items", status: http.StatusOK, body: `{"data":{"items":[]}}`, wantLabel: "no_prices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			mock := httpmock.NewMockTransport()
			mock.RegisterRegexpResponder(http.MethodGet, apiPattern, httpmock.NewStringResponder(tt.status, tt.body))

			rec := &recorder{}
			strategy := NewAPIStrategy(cfg, NewTransport(mock, cfg, nil), rec)
			prices, err := strategy.Fetch(context.Background(), "camera")
			if err == nil || prices != nil {
				t.Fatalf("expected failure, got %v, %v", prices, err)
			}
			if got := ErrorTypeLabel(err); got != tt.wantLabel {
				t.Fatalf("label = %q, want %q (err=%v)", got, tt.wantLabel, err)
			}
		})
	}
}

func TestPageStrategyUsesExtractionChain(t *testing.T) {
	cfg := testConfig()
	mock := httpmock.NewMockTransport()
	var seen []*http.Request
	html := `<html><body><ul><li>Camera <span>¥12,800</span></li><li>Lens <span>¥3,400</span></li></ul></body></html>`
	mock.RegisterRegexpResponder(http.MethodGet, pagePattern, capturing(http.StatusOK, html, "text/html", &seen))

	rec := &recorder{}
	strategy := NewPageStrategy(cfg, parser.DefaultChain(), NewTransport(mock, cfg, nil), rec)
	prices, err := strategy.Fetch(context.Background(), "camera")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if want := (models.PriceList{12800, 3400}); !reflect.DeepEqual(prices, want) {
		t.Fatalf("prices = %v, want %v", prices, want)
	}
	if ua := seen[0].Header.Get("User-Agent"); ua != cfg.DesktopUserAgent {
		t.Fatalf("user agent = %q, want desktop identity", ua)
	}

	parses := rec.byStage(StageParse)
	if len(parses) != 3 {
		t.Fatalf("parse events = %d, want 3 (two misses and one hit)", len(parses))
	}
	if last := parses[len(parses)-1]; last.Technique != "raw_text" || last.Err != nil || last.Count != 2 {
		t.Fatalf("final parse event = %+v", last)
	}
}

func TestRelayStrategyRewritesTarget(t *testing.T) {
	cfg := testConfig()
	mock := httpmock.NewMockTransport()
	var seen []*http.Request
	mock.RegisterRegexpResponder(http.MethodGet, relayPattern, capturing(http.StatusOK,
		`<script>window.__PRELOADED_STATE__ = {"search":{"items":{"data":{"items":[{"price":4000},{"price":6000}]}}}};</script>`,
		"text/html", &seen))

	strategy := NewRelayStrategy(cfg, parser.DefaultChain(), NewTransport(mock, cfg, nil), nil)
	prices, err := strategy.Fetch(context.Background(), "desk lamp")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if want := (models.PriceList{4000, 6000}); !reflect.DeepEqual(prices, want) {
		t.Fatalf("prices = %v, want %v", prices, want)
	}

	got := seen[0].URL.String()
	if !strings.HasPrefix(got, "https://relay.example.test/https://www.example.test/search?") || !strings.Contains(got, "keyword=desk+lamp") {
		t.Fatalf("relay url = %q", got)
	}
	if pagePattern.MatchString(got) {
		t.Fatalf("relay request should not hit the direct page")
	}
}

func TestPageStrategyNoPrices(t *testing.T) {
	cfg := testConfig()
	mock := httpmock.NewMockTransport()
	mock.RegisterRegexpResponder(http.MethodGet, pagePattern, httpmock.NewStringResponder(http.StatusOK, "<html><body>captcha</body></html>"))

	strategy := NewPageStrategy(cfg, parser.DefaultChain(), NewTransport(mock, cfg, nil), nil)
	if _, err := strategy.Fetch(context.Background(), "camera"); !errors.Is(err, parser.ErrNoPrices) {
		t.Fatalf("err = %v, want ErrNoPrices", err)
	}
}

func TestStrategyRetriesTransientStatusOnSharedTransport(t *testing.T) {
	cfg := testConfig()
	mock := httpmock.NewMockTransport()
	calls := 0
	mock.RegisterRegexpResponder(http.MethodGet, apiPattern, func(*http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, ""), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"data":{"items":[{"price":1500}]}}`), nil
	})

	metrics := NewMetrics()
	strategy := NewAPIStrategy(cfg, NewTransport(mock, cfg, metrics), metrics)
	prices, err := strategy.Fetch(context.Background(), "mug")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(prices) != 1 || prices[0] != 1500 {
		t.Fatalf("prices = %v", prices)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestStrategySkipsCancelledContext(t *testing.T) {
	cfg := testConfig()
	mock := httpmock.NewMockTransport()
	strategy := NewAPIStrategy(cfg, NewTransport(mock, cfg, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := strategy.Fetch(ctx, "mug"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := mock.GetTotalCallCount(); got != 0 {
		t.Fatalf("calls = %d, want 0", got)
	}
}

func TestDefaultStrategiesOrder(t *testing.T) {
	cfg := testConfig()
	strategies := DefaultStrategies(cfg, NewTransport(httpmock.NewMockTransport(), cfg, nil), nil)
	var names []string
	for _, s := range strategies {
		names = append(names, s.Name())
	}
	if want := []string{ChannelAPI, ChannelPage, ChannelRelay}; !reflect.DeepEqual(names, want) {
		t.Fatalf("order = %v, want %v", names, want)
	}
}
