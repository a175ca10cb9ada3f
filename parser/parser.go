// Package parser recovers listing prices from marketplace search pages.
package parser

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-resale-estimator/models"
)

var (
	// ErrNoPrices is returned when a technique ran but found no usable price.
	ErrNoPrices = errors.New("parser: no prices found")
	// ErrBlockNotFound is returned when the embedded data a technique looks
	// for is absent from the document.
	ErrBlockNotFound = errors.New("parser: data block not found")
)

// Technique extracts a price list from a raw document.
type Technique interface {
	Name() string
	Extract(doc []byte) (models.PriceList, error)
}

// ReportFunc receives every technique that failed before one succeeded.
type ReportFunc func(technique string, err error)

// Chain runs techniques in priority order; the first non-empty list wins.
type Chain struct {
	techniques []Technique
}

// NewChain builds a chain from techniques in the order given.
func NewChain(techniques ...Technique) *Chain {
	return &Chain{techniques: techniques}
}

// DefaultChain returns framework data, then legacy state, then raw text.
func DefaultChain() *Chain {
	return NewChain(NextData(), PreloadedState(), RawText())
}

// Extract returns the first non-empty price list and the name of the
// technique that produced it. Technique errors never escape; they are passed
// to report (which may be nil) and the next technique is tried.
func (c *Chain) Extract(doc []byte, report ReportFunc) (models.PriceList, string) {
	for _, technique := range c.techniques {
		prices, err := safeExtract(technique, doc)
		if err == nil && len(prices) == 0 {
			err = ErrNoPrices
		}
		if err != nil {
			if report != nil {
				report(technique.Name(), err)
			}
			continue
		}
		return prices, technique.Name()
	}
	return nil, ""
}

func safeExtract(technique Technique, doc []byte) (prices models.PriceList, err error) {
	defer func() {
		if r := recover(); r != nil {
			prices = nil
			err = fmt.Errorf("%s panicked: %v", technique.Name(), r)
		}
	}()
	return technique.Extract(doc)
}
