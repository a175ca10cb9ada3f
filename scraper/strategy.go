package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aluiziolira/go-resale-estimator/config"
	"github.com/aluiziolira/go-resale-estimator/models"
	"github.com/aluiziolira/go-resale-estimator/parser"
)

const (
	ChannelAPI   = "api"
	ChannelPage  = "page"
	ChannelRelay = "relay"
)

const (
	acceptJSON = "application/json"
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// Strategy obtains recent listing prices for a keyword from one channel.
// A request already in flight runs to completion or to its timeout; ctx is
// only consulted before it is issued.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, keyword string) (models.PriceList, error)
}

// APIStrategy queries the JSON search endpoint as the mobile client. The
// limit is only sent upstream; at most parser.MaxJSONItems items are read.
type APIStrategy struct {
	endpoint string
	limit    int
	channel  *channel
}

type apiSearchResponse struct {
	Data struct {
		Items []parser.Listing `json:"items"`
	} `json:"data"`
}

// NewAPIStrategy builds the structured-API strategy on the shared transport.
func NewAPIStrategy(cfg *config.Config, transport http.RoundTripper, observer Observer) *APIStrategy {
	return &APIStrategy{
		endpoint: cfg.APIURL,
		limit:    cfg.APILimit,
		channel:  newChannel(ChannelAPI, cfg.MobileUserAgent, acceptJSON, cfg.APITimeout, transport, observer),
	}
}

// Name implements Strategy.
func (s *APIStrategy) Name() string { return ChannelAPI }

// Fetch implements Strategy.
func (s *APIStrategy) Fetch(ctx context.Context, keyword string) (models.PriceList, error) {
	query := url.Values{}
	query.Set("keyword", keyword)
	query.Set("status", "on_sale")
	query.Set("limit", strconv.Itoa(s.limit))

	body, err := s.channel.get(ctx, keyword, s.endpoint+"?"+query.Encode())
	if err != nil {
		return nil, err
	}

	ev := Event{Stage: StageParse, Channel: ChannelAPI, Keyword: keyword, Technique: "api_json"}

	var resp apiSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		ev.Err = fmt.Errorf("decode api response: %w", err)
		ev.ErrorType = ErrorTypeLabel(err)
		emit(s.channel.observer, ev)
		return nil, ev.Err
	}

	prices := parser.PricesFromListings(resp.Data.Items, parser.MaxJSONItems)
	if len(prices) == 0 {
		ev.Err = parser.ErrNoPrices
		ev.ErrorType = ErrorTypeLabel(ev.Err)
		emit(s.channel.observer, ev)
		return nil, ev.Err
	}

	ev.Count = len(prices)
	emit(s.channel.observer, ev)
	return prices, nil
}

// PageStrategy fetches the human-facing search page, directly or through
// the rendering relay, and runs the extraction chain over the body.
type PageStrategy struct {
	name        string
	searchURL   string
	relayPrefix string
	chain       *parser.Chain
	channel     *channel
}

// NewPageStrategy fetches the search page directly as a desktop browser.
func NewPageStrategy(cfg *config.Config, chain *parser.Chain, transport http.RoundTripper, observer Observer) *PageStrategy {
	return &PageStrategy{
		name:      ChannelPage,
		searchURL: cfg.SearchURL,
		chain:     chain,
		channel:   newChannel(ChannelPage, cfg.DesktopUserAgent, acceptHTML, cfg.PageTimeout, transport, observer),
	}
}

// NewRelayStrategy fetches the same page routed through the relay prefix.
func NewRelayStrategy(cfg *config.Config, chain *parser.Chain, transport http.RoundTripper, observer Observer) *PageStrategy {
	return &PageStrategy{
		name:        ChannelRelay,
		searchURL:   cfg.SearchURL,
		relayPrefix: cfg.RelayPrefix,
		chain:       chain,
		channel:     newChannel(ChannelRelay, cfg.DesktopUserAgent, acceptHTML, cfg.RelayTimeout, transport, observer),
	}
}

// Name implements Strategy.
func (s *PageStrategy) Name() string { return s.name }

// SearchPageURL returns the search page URL for keyword.
func SearchPageURL(searchURL, keyword string) string {
	query := url.Values{}
	query.Set("keyword", keyword)
	query.Set("status", "on_sale")
	return searchURL + "?" + query.Encode()
}

func (s *PageStrategy) target(keyword string) string {
	return s.relayPrefix + SearchPageURL(s.searchURL, keyword)
}

// Fetch implements Strategy.
func (s *PageStrategy) Fetch(ctx context.Context, keyword string) (models.PriceList, error) {
	body, err := s.channel.get(ctx, keyword, s.target(keyword))
	if err != nil {
		return nil, err
	}

	prices, technique := s.chain.Extract(body, func(technique string, err error) {
		emit(s.channel.observer, Event{
			Stage:     StageParse,
			Channel:   s.name,
			Keyword:   keyword,
			Technique: technique,
			ErrorType: ErrorTypeLabel(err),
			Err:       err,
		})
	})
	if len(prices) == 0 {
		return nil, fmt.Errorf("%s: %w", s.name, parser.ErrNoPrices)
	}

	emit(s.channel.observer, Event{
		Stage:     StageParse,
		Channel:   s.name,
		Keyword:   keyword,
		Technique: technique,
		Count:     len(prices),
	})
	return prices, nil
}

// DefaultStrategies returns API, direct page and relay strategies in
// fallback order, all sharing transport.
func DefaultStrategies(cfg *config.Config, transport http.RoundTripper, observer Observer) []Strategy {
	chain := parser.DefaultChain()
	return []Strategy{
		NewAPIStrategy(cfg, transport, observer),
		NewPageStrategy(cfg, chain, transport, observer),
		NewRelayStrategy(cfg, chain, transport, observer),
	}
}
