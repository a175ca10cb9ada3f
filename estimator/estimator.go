// Package estimator turns a keyword into a comparable-price estimate by
// trying each price source in order until one yields data.
package estimator

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-resale-estimator/config"
	"github.com/aluiziolira/go-resale-estimator/models"
	"github.com/aluiziolira/go-resale-estimator/scraper"
)

// ErrEmptyKeyword is returned before any network call when the keyword is
// blank.
var ErrEmptyKeyword = errors.New("estimator: keyword is empty")

// Lookup is implemented by Estimator and Cache.
type Lookup interface {
	Estimate(ctx context.Context, keyword string) (models.Estimate, error)
}

// Sleeper pauses between failed strategies.
type Sleeper func(ctx context.Context, d time.Duration) error

// Estimator runs strategies in fixed priority order. Each strategy is tried
// at most once per call, with a jittered pause after every failure that is
// followed by another attempt.
type Estimator struct {
	strategies []scraper.Strategy
	observer   scraper.Observer
	jitterMin  time.Duration
	jitterMax  time.Duration
	sleep      Sleeper
	now        func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option customises an Estimator.
type Option func(*Estimator)

// WithObserver routes estimate events to o.
func WithObserver(o scraper.Observer) Option {
	return func(e *Estimator) { e.observer = o }
}

// WithJitter sets the bounds of the pause between failed strategies.
func WithJitter(min, max time.Duration) Option {
	return func(e *Estimator) {
		e.jitterMin = min
		e.jitterMax = max
	}
}

// WithSleeper replaces the pause implementation.
func WithSleeper(s Sleeper) Option {
	return func(e *Estimator) { e.sleep = s }
}

// WithRand seeds the jitter source.
func WithRand(r *rand.Rand) Option {
	return func(e *Estimator) { e.rng = r }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// New builds an estimator over strategies in the order given.
func New(strategies []scraper.Strategy, opts ...Option) *Estimator {
	defaults := config.DefaultConfig()
	e := &Estimator{
		strategies: strategies,
		jitterMin:  defaults.JitterMin,
		jitterMax:  defaults.JitterMax,
		sleep:      sleepContext,
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewFromConfig wires the default API, page and relay strategies on a single
// shared transport.
func NewFromConfig(cfg *config.Config, metrics *scraper.Metrics, observer scraper.Observer) *Estimator {
	transport := scraper.NewTransport(nil, cfg, metrics)
	return New(
		scraper.DefaultStrategies(cfg, transport, observer),
		WithObserver(observer),
		WithJitter(cfg.JitterMin, cfg.JitterMax),
	)
}

// Estimate returns the floored mean of the first non-empty price list. When
// every strategy fails, the result has Found == false and err is nil; err is
// only set for a blank keyword or a cancelled ctx.
func (e *Estimator) Estimate(ctx context.Context, keyword string) (models.Estimate, error) {
	if strings.TrimSpace(keyword) == "" {
		return models.Estimate{}, ErrEmptyKeyword
	}

	result := models.Estimate{Keyword: keyword}
	for i, strategy := range e.strategies {
		if i > 0 {
			if err := e.sleep(ctx, e.jitter()); err != nil {
				return result, err
			}
		}

		prices, err := strategy.Fetch(ctx, keyword)
		if err != nil || len(prices) == 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			continue
		}

		avg, _ := prices.Average()
		result.Found = true
		result.Average = avg
		result.Samples = prices
		result.Source = strategy.Name()
		break
	}

	result.CheckedAt = e.now()
	if e.observer != nil {
		e.observer.Observe(scraper.Event{
			Stage:   scraper.StageEstimate,
			Channel: result.Source,
			Keyword: keyword,
			Count:   len(result.Samples),
		})
	}
	return result, nil
}

func (e *Estimator) jitter() time.Duration {
	span := e.jitterMax - e.jitterMin
	if span <= 0 {
		return e.jitterMin
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.jitterMin + time.Duration(e.rng.Int63n(int64(span)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
