package parser

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aluiziolira/go-resale-estimator/models"
)

var preloadedStateRegex = regexp.MustCompile(`window\.__PRELOADED_STATE__\s*=\s*({.*?});\s*</script>`)

type preloadedStateDocument struct {
	Search struct {
		Items struct {
			Data struct {
				Items []Listing `json:"items"`
			} `json:"data"`
		} `json:"items"`
	} `json:"search"`
}

type preloadedState struct{}

// PreloadedState reads the legacy global state assignment embedded in a
// script tag.
func PreloadedState() Technique { return preloadedState{} }

func (preloadedState) Name() string { return "preloaded_state" }

func (preloadedState) Extract(doc []byte) (models.PriceList, error) {
	match := preloadedStateRegex.FindSubmatch(doc)
	if match == nil {
		return nil, ErrBlockNotFound
	}

	var state preloadedStateDocument
	if err := json.Unmarshal(match[1], &state); err != nil {
		return nil, fmt.Errorf("decode preloaded state: %w", err)
	}

	prices := PricesFromListings(state.Search.Items.Data.Items, MaxJSONItems)
	if len(prices) == 0 {
		return nil, ErrNoPrices
	}
	return prices, nil
}
