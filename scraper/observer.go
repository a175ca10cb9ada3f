package scraper

import (
	"log/slog"
	"time"
)

// Stage identifies which step of a lookup produced an event.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageParse    Stage = "parse"
	StageEstimate Stage = "estimate"
)

// Event is one diagnostics observation. Callers route events to logs,
// metrics or a UI panel through an Observer.
type Event struct {
	Stage     Stage
	Channel   string
	Keyword   string
	URL       string
	Status    int
	Technique string
	Count     int
	ErrorType string
	Err       error
	Duration  time.Duration
}

// Observer receives diagnostics events. Implementations must be safe for
// concurrent use.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }

// MultiObserver fans an event out to every non-nil observer.
type MultiObserver []Observer

// Observe implements Observer.
func (m MultiObserver) Observe(ev Event) {
	for _, o := range m {
		if o != nil {
			o.Observe(ev)
		}
	}
}

// LogObserver writes events as structured log lines.
type LogObserver struct {
	Logger *slog.Logger
}

// NewLogObserver returns a LogObserver on logger, or slog.Default when nil.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{Logger: logger}
}

// Observe implements Observer.
func (l *LogObserver) Observe(ev Event) {
	attrs := []any{
		slog.String("stage", string(ev.Stage)),
		slog.String("channel", ev.Channel),
	}
	if ev.Keyword != "" {
		attrs = append(attrs, slog.String("keyword", ev.Keyword))
	}
	if ev.URL != "" {
		attrs = append(attrs, slog.String("url", ev.URL))
	}
	if ev.Status != 0 {
		attrs = append(attrs, slog.Int("status", ev.Status))
	}
	if ev.Technique != "" {
		attrs = append(attrs, slog.String("technique", ev.Technique))
	}
	if ev.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", ev.Duration))
	}
	attrs = append(attrs, slog.Int("count", ev.Count))

	if ev.Err != nil {
		attrs = append(attrs, slog.String("error_type", ev.ErrorType), slog.Any("error", ev.Err))
		l.Logger.Debug("estimator attempt failed", attrs...)
		return
	}
	l.Logger.Info("estimator attempt", attrs...)
}

func emit(o Observer, ev Event) {
	if o != nil {
		o.Observe(ev)
	}
}
