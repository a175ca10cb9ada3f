package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-resale-estimator/models"
)

// MaxTextMatches caps how many currency amounts raw-text mining keeps.
const MaxTextMatches = 20

// Matches any yen amount on the page, shipping fees and banners included.
var yenAmountRegex = regexp.MustCompile(`[¥￥]\s?(\d{1,3}(?:,\d{3})+|\d{3,})`)

type rawText struct{}

// RawText strips markup and mines yen-prefixed amounts from the text.
func RawText() Technique { return rawText{} }

func (rawText) Name() string { return "raw_text" }

func (rawText) Extract(doc []byte) (models.PriceList, error) {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	prices := MinePrices(root.Text(), MaxTextMatches)
	if len(prices) == 0 {
		return nil, ErrNoPrices
	}
	return prices, nil
}

// MinePrices returns up to limit yen amounts found in text, separators removed.
func MinePrices(text string, limit int) models.PriceList {
	matches := yenAmountRegex.FindAllStringSubmatch(text, limit)
	prices := make(models.PriceList, 0, len(matches))
	for _, m := range matches {
		value, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil || value <= 0 {
			continue
		}
		prices = append(prices, value)
	}
	return prices
}
