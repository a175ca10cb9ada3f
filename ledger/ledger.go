// Package ledger keeps the brokerage records in process memory.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	// ErrMissingItem is returned when a record has no item name.
	ErrMissingItem = errors.New("ledger: item name is required")
	// ErrFeeRate is returned when the fee rate is outside 0..100.
	ErrFeeRate = errors.New("ledger: fee rate must be between 0 and 100")
	// ErrNegativePrice is returned for negative prices.
	ErrNegativePrice = errors.New("ledger: prices cannot be negative")
)

// Record is one brokered sale. Records are never mutated after creation.
type Record struct {
	ID            int       `json:"id"`
	RegisteredAt  time.Time `json:"registered_at"`
	ItemName      string    `json:"item_name"`
	Requester     string    `json:"requester"`
	ExpectedPrice int       `json:"expected_price"`
	ActualPrice   int       `json:"actual_price"`
	FeeRate       int       `json:"fee_rate"`
	Fee           int       `json:"fee"`
	Payout        int       `json:"payout"`
	ImagePath     string    `json:"image_path,omitempty"`
	EstimateFrom  string    `json:"estimate_from,omitempty"`
}

// Entry is the caller-supplied part of a record.
type Entry struct {
	ItemName      string `json:"item_name"`
	Requester     string `json:"requester"`
	ExpectedPrice int    `json:"expected_price"`
	ActualPrice   int    `json:"actual_price"`
	FeeRate       int    `json:"fee_rate"`
	ImagePath     string `json:"image_path,omitempty"`
	EstimateFrom  string `json:"estimate_from,omitempty"`
}

// FeeSplit returns the broker fee (floored) and the client payout.
func FeeSplit(actualPrice, feeRate int) (fee, payout int) {
	fee = actualPrice * feeRate / 100
	return fee, actualPrice - fee
}

// Validate checks an entry before it is recorded.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.ItemName) == "" {
		return ErrMissingItem
	}
	if e.FeeRate < 0 || e.FeeRate > 100 {
		return fmt.Errorf("%w: got %d", ErrFeeRate, e.FeeRate)
	}
	if e.ExpectedPrice < 0 || e.ActualPrice < 0 {
		return ErrNegativePrice
	}
	return nil
}

// Store is an append-only in-memory record list, safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records []Record
	now     func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Add validates entry, computes the fee split and appends the record.
func (s *Store) Add(entry Entry) (Record, error) {
	if err := entry.Validate(); err != nil {
		return Record{}, err
	}
	fee, payout := FeeSplit(entry.ActualPrice, entry.FeeRate)

	s.mu.Lock()
	defer s.mu.Unlock()

	record := Record{
		ID:            len(s.records) + 1,
		RegisteredAt:  s.now(),
		ItemName:      strings.TrimSpace(entry.ItemName),
		Requester:     strings.TrimSpace(entry.Requester),
		ExpectedPrice: entry.ExpectedPrice,
		ActualPrice:   entry.ActualPrice,
		FeeRate:       entry.FeeRate,
		Fee:           fee,
		Payout:        payout,
		ImagePath:     entry.ImagePath,
		EstimateFrom:  entry.EstimateFrom,
	}
	s.records = append(s.records, record)
	return record, nil
}

// All returns a copy of every record in insertion order.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
