package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-resale-estimator/models"
)

type namedWriter struct {
	name string
	OutputWriter
}

// DualWriter fans every batch out to a CSV and a JSONL file.
type DualWriter struct {
	mu      sync.Mutex
	writers []namedWriter
}

// NewDualWriter opens both files. The CSV file is closed again if the JSON
// file cannot be created.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}
	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		_ = csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return &DualWriter{writers: []namedWriter{
		{name: "csv", OutputWriter: csvWriter},
		{name: "json", OutputWriter: jsonWriter},
	}}, nil
}

// Write stops at the first failing output.
func (dw *DualWriter) Write(estimates []models.Estimate) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	for _, w := range dw.writers {
		if err := w.Write(estimates); err != nil {
			return fmt.Errorf("%s write: %w", w.name, err)
		}
	}
	return nil
}

// Close closes every output and joins the failures.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	return dw.each("close", OutputWriter.Close)
}

// Validate checks every output and joins the failures.
func (dw *DualWriter) Validate() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	return dw.each("validate", OutputWriter.Validate)
}

func (dw *DualWriter) each(op string, fn func(OutputWriter) error) error {
	var errs []error
	for _, w := range dw.writers {
		if err := fn(w.OutputWriter); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", w.name, op, err))
		}
	}
	return errors.Join(errs...)
}
