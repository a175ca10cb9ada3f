package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/aluiziolira/go-resale-estimator/models"
)

func nextDataPage(prices ...any) string {
	items := make([]map[string]any, 0, len(prices))
	for _, p := range prices {
		items = append(items, map[string]any{"name": "item", "price": p})
	}
	payload, _ := json.Marshal(map[string]any{
		"props": map[string]any{
			"pageProps": map[string]any{
				"searchResult": map[string]any{"items": items},
			},
		},
	})
	return fmt.Sprintf(`<script id="__NEXT_DATA__" type="application/json">%s</script>`, payload)
}

func preloadedStatePage(prices ...any) string {
	items := make([]map[string]any, 0, len(prices))
	for _, p := range prices {
		items = append(items, map[string]any{"price": p})
	}
	payload, _ := json.Marshal(map[string]any{
		"search": map[string]any{
			"items": map[string]any{
				"data": map[string]any{"items": items},
			},
		},
	})
	return fmt.Sprintf(`<script>window.__PRELOADED_STATE__ = %s;</script>`, payload)
}

func page(parts ...string) []byte {
	return []byte("<html><head><title>search</title></head><body>" + strings.Join(parts, "") + "</body></html>")
}

type spyTechnique struct {
	name   string
	prices models.PriceList
	err    error
	calls  int
}

func (s *spyTechnique) Name() string { return s.name }

func (s *spyTechnique) Extract([]byte) (models.PriceList, error) {
	s.calls++
	return s.prices, s.err
}

type panicTechnique struct{}

func (panicTechnique) Name() string { return "panics" }

func (panicTechnique) Extract([]byte) (models.PriceList, error) { panic("boom") }

func TestNextDataExtract(t *testing.T) {
	doc := page(nextDataPage(12800, "9,800", 0, nil, "", map[string]any{"v": 1}, 3000))
	prices, err := NextData().Extract(doc)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := models.PriceList{12800, 9800, 3000}
	if !reflect.DeepEqual(prices, want) {
		t.Fatalf("prices = %v, want %v", prices, want)
	}
}

func TestNextDataCapsLeadingItems(t *testing.T) {
	values := make([]any, 0, 15)
	for i := 1; i <= 15; i++ {
		values = append(values, i*100)
	}
	prices, err := NextData().Extract(page(nextDataPage(values...)))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(prices) != MaxJSONItems || prices[0] != 100 || prices[9] != 1000 {
		t.Fatalf("prices = %v, want first %d in document order", prices, MaxJSONItems)
	}
}

func TestNextDataFailures(t *testing.T) {
	tests := []struct {
		name    string
		doc     []byte
		wantErr error
	}{
		{name: "missing block", doc: page("<p>nothing</p>"), wantErr: ErrBlockNotFound},
		{name: "wrong path", doc: page(`<script id="__NEXT_DATA__">{"props":{"other":1}}</script>`), wantErr: ErrNoPrices},
		{name: "no priced items", doc: page(nextDataPage(0, nil)), wantErr: ErrNoPrices},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NextData().Extract(tt.doc); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	truncated := page(`<script id="__NEXT_DATA__">{"props":{"pageProps":{"searchResult":{"items":[{"price":1</script>`)
	if _, err := NextData().Extract(truncated); err == nil {
		t.Fatalf("expected decode error for truncated json")
	}
}

func TestPreloadedStateExtract(t *testing.T) {
	prices, err := PreloadedState().Extract(page(preloadedStatePage(5000, "", 7000)))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if want := (models.PriceList{5000, 7000}); !reflect.DeepEqual(prices, want) {
		t.Fatalf("prices = %v, want %v", prices, want)
	}

	if _, err := PreloadedState().Extract(page("<p>none</p>")); !errors.Is(err, ErrBlockNotFound) {
		t.Fatalf("err = %v, want ErrBlockNotFound", err)
	}
	if _, err := PreloadedState().Extract(page(`<script>window.__PRELOADED_STATE__ = {"search":};</script>`)); err == nil {
		t.Fatalf("expected decode error for malformed state")
	}
}

func TestMinePrices(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.PriceList
	}{
		{name: "thousands separator", text: "iPhone ¥12,800 送料込み", want: models.PriceList{12800}},
		{name: "full width sign", text: "￥3,000 and ￥ 4500", want: models.PriceList{3000, 4500}},
		{name: "millions", text: "¥1,234,567", want: models.PriceList{1234567}},
		{name: "too short", text: "¥99 only", want: models.PriceList{}},
		{name: "no symbol", text: "12,800 yen", want: models.PriceList{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MinePrices(tt.text, MaxTextMatches); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("MinePrices(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestRawTextCapsMatches(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 30; i++ {
		fmt.Fprintf(&b, "<li><span>¥%d,000</span></li>", i)
	}
	prices, err := RawText().Extract(page(b.String()))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(prices) != MaxTextMatches || prices[0] != 1000 || prices[19] != 20000 {
		t.Fatalf("prices = %v, want first %d matches", prices, MaxTextMatches)
	}
}

func TestChainPrefersFrameworkData(t *testing.T) {
	doc := page(nextDataPage(1000, 2000), preloadedStatePage(9000), "<p>¥5,000</p>")
	prices, technique := DefaultChain().Extract(doc, nil)
	if technique != "next_data" {
		t.Fatalf("technique = %q, want next_data", technique)
	}
	if want := (models.PriceList{1000, 2000}); !reflect.DeepEqual(prices, want) {
		t.Fatalf("prices = %v, want %v", prices, want)
	}
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	first := &spyTechnique{name: "first", prices: models.PriceList{1}}
	second := &spyTechnique{name: "second", prices: models.PriceList{2}}

	if _, technique := NewChain(first, second).Extract(nil, nil); technique != "first" {
		t.Fatalf("technique = %q, want first", technique)
	}
	if second.calls != 0 {
		t.Fatalf("second technique called %d times, want 0", second.calls)
	}
}

func TestChainFailsClosed(t *testing.T) {
	doc := page(`<script id="__NEXT_DATA__">{"props":{"pageProps":</script>`, "<div>¥12,800</div>")

	var failed []string
	prices, technique := DefaultChain().Extract(doc, func(name string, err error) {
		if err == nil {
			t.Fatalf("report called with nil error for %s", name)
		}
		failed = append(failed, name)
	})
	if technique != "raw_text" {
		t.Fatalf("technique = %q, want raw_text", technique)
	}
	if want := (models.PriceList{12800}); !reflect.DeepEqual(prices, want) {
		t.Fatalf("prices = %v, want %v", prices, want)
	}
	if want := []string{"next_data", "preloaded_state"}; !reflect.DeepEqual(failed, want) {
		t.Fatalf("failed = %v, want %v", failed, want)
	}
}

func TestChainRecoversFromPanics(t *testing.T) {
	fallback := &spyTechnique{name: "fallback", prices: models.PriceList{42}}
	prices, technique := NewChain(panicTechnique{}, fallback).Extract(nil, nil)
	if technique != "fallback" || len(prices) != 1 {
		t.Fatalf("got %v from %q, want fallback", prices, technique)
	}
}

func TestChainExhausted(t *testing.T) {
	empty := &spyTechnique{name: "empty"}
	prices, technique := NewChain(empty).Extract(nil, nil)
	if prices != nil || technique != "" {
		t.Fatalf("got %v from %q, want nothing", prices, technique)
	}
}
