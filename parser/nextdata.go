package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-resale-estimator/models"
)

const nextDataSelector = "script#__NEXT_DATA__"

type nextDataDocument struct {
	Props struct {
		PageProps struct {
			SearchResult struct {
				Items []Listing `json:"items"`
			} `json:"searchResult"`
		} `json:"pageProps"`
	} `json:"props"`
}

type nextData struct{}

// NextData reads the JSON payload of the framework data script tag.
func NextData() Technique { return nextData{} }

func (nextData) Name() string { return "next_data" }

func (nextData) Extract(doc []byte) (models.PriceList, error) {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	block := root.Find(nextDataSelector).First()
	if block.Length() == 0 {
		return nil, ErrBlockNotFound
	}

	var payload nextDataDocument
	if err := json.Unmarshal([]byte(strings.TrimSpace(block.Text())), &payload); err != nil {
		return nil, fmt.Errorf("decode next data: %w", err)
	}

	prices := PricesFromListings(payload.Props.PageProps.SearchResult.Items, MaxJSONItems)
	if len(prices) == 0 {
		return nil, ErrNoPrices
	}
	return prices, nil
}
