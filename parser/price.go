package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-resale-estimator/models"
)

// MaxJSONItems caps how many leading items a JSON technique inspects.
const MaxJSONItems = 10

// Listing is the subset of a marketplace item the estimator reads.
type Listing struct {
	Price Price `json:"price"`
}

// Price accepts a JSON number or a numeric string. Anything else decodes to
// zero, which marks the listing as having no price.
type Price int

// UnmarshalJSON implements json.Unmarshaler.
func (p *Price) UnmarshalJSON(data []byte) error {
	*p = 0
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var raw string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
		raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	} else {
		raw = string(data)
	}

	if value, err := strconv.Atoi(raw); err == nil {
		*p = Price(value)
		return nil
	}
	if value, err := strconv.ParseFloat(raw, 64); err == nil {
		*p = Price(int(value))
	}
	return nil
}

// PricesFromListings keeps the positive prices among the first limit
// listings, preserving order.
func PricesFromListings(listings []Listing, limit int) models.PriceList {
	if limit >= 0 && len(listings) > limit {
		listings = listings[:limit]
	}
	prices := make(models.PriceList, 0, len(listings))
	for _, l := range listings {
		if l.Price > 0 {
			prices = append(prices, int(l.Price))
		}
	}
	return prices
}
