// Package pipeline estimates batches of keywords with a bounded worker pool
// and streams the results to an output writer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-resale-estimator/config"
	"github.com/aluiziolira/go-resale-estimator/estimator"
	"github.com/aluiziolira/go-resale-estimator/models"
)

const dedupeSize = 4096

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// drainTimeout bounds how long Close waits for in-flight lookups.
var drainTimeout = 2 * time.Minute

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(estimates []models.Estimate) error
	Close() error
	Validate() error
}

// Pipeline coordinates de-duplication, lookups and output writing.
type Pipeline struct {
	ctx       context.Context
	lookup    estimator.Lookup
	writer    OutputWriter
	keywordCh chan string
	batchSize int

	wg   sync.WaitGroup
	seen *lru.Cache[string, struct{}]

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline that resolves keywords through lookup.
func NewPipeline(ctx context.Context, lookup estimator.Lookup, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	seen, _ := lru.New[string, struct{}](dedupeSize)
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Pipeline{
		ctx:       ctx,
		lookup:    lookup,
		writer:    writer,
		keywordCh: make(chan string, 4*batchSize),
		batchSize: batchSize,
		seen:      seen,
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues keywords for lookup.
func (p *Pipeline) Process(keywords ...string) error {
	if len(keywords) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, keyword := range keywords {
		if err := p.enqueue(keyword); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting keywords and waits for workers to finish.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.keywordCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.signalShutdown()
		return ErrPipelineCloseTimeout
	}
	p.signalShutdown()
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := p.GetMetrics()
				slog.Info("pipeline progress",
					slog.Int64("processed", m["processed_keywords"].(int64)),
					slog.Int64("found", m["estimates_found"].(int64)),
					slog.Any("skipped", m["skipped"]),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]models.Estimate, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for keyword := range p.keywordCh {
		result, ok := p.resolve(keyword)
		if !ok {
			continue
		}
		batch = append(batch, result)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) resolve(keyword string) (models.Estimate, bool) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		p.metrics.addSkip("empty_keyword")
		return models.Estimate{}, false
	}
	if found, _ := p.seen.ContainsOrAdd(keyword, struct{}{}); found {
		p.metrics.addSkip("duplicate_keyword")
		return models.Estimate{}, false
	}
	if p.ctx.Err() != nil {
		p.metrics.addSkip("cancelled")
		return models.Estimate{}, false
	}

	result, err := p.lookup.Estimate(p.ctx, keyword)
	if err != nil {
		slog.Debug("pipeline lookup failed", slog.String("keyword", keyword), slog.Any("error", err))
		p.metrics.addSkip("lookup_error")
		return models.Estimate{}, false
	}

	p.metrics.incrementProcessed(result.Found)
	return result, true
}

func (p *Pipeline) enqueue(keyword string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.keywordCh <- keyword:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type metrics struct {
	mu        sync.Mutex
	processed int64
	found     int64
	skipped   map[string]int
}

func newMetrics() metrics {
	return metrics{
		skipped: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed(found bool) {
	m.mu.Lock()
	m.processed++
	if found {
		m.found++
	}
	m.mu.Unlock()
}

func (m *metrics) addSkip(kind string) {
	m.mu.Lock()
	m.skipped[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copySkipped := make(map[string]int, len(m.skipped))
	for k, v := range m.skipped {
		copySkipped[k] = v
	}

	return map[string]interface{}{
		"processed_keywords": m.processed,
		"estimates_found":    m.found,
		"skipped":            copySkipped,
	}
}
