// Package models defines data structures shared by the estimator packages.
package models

import "time"

// PriceList is an ordered sequence of positive listing prices, in the order
// the source ranked them.
type PriceList []int

// Average returns the floored integer mean of the list. ok is false for an
// empty list so that "no data" never reads as a zero price.
func (p PriceList) Average() (avg int, ok bool) {
	if len(p) == 0 {
		return 0, false
	}
	sum := 0
	for _, price := range p {
		sum += price
	}
	return sum / len(p), true
}

// Estimate is the outcome of one comparable-price lookup.
type Estimate struct {
	Keyword   string    `csv:"keyword" json:"keyword"`
	Found     bool      `csv:"found" json:"found"`
	Average   int       `csv:"average" json:"average,omitempty"`
	Samples   PriceList `csv:"-" json:"samples,omitempty"`
	Source    string    `csv:"source" json:"source,omitempty"`
	CheckedAt time.Time `csv:"checked_at" json:"checked_at"`
}
