package pipeline

import (
	"log/slog"
	"time"

	"github.com/kingrea/foundry/internal/logbook"
	"github.com/kingrea/foundry/internal/metrics"
)

const (
	DefaultMinRelevance   = 0.6
	DefaultPassScore      = 50
	DefaultMaxRetries     = 2
	DefaultPublishTimeout = 5 * time.Minute
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMode selects corpus or direct production.
func WithMode(mode Mode) Option {
	return func(o *Orchestrator) {
		if mode != "" {
			o.mode = mode
		}
	}
}

// WithScorer replaces the heuristic quality scorer.
func WithScorer(s Scorer) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.scorer = s
		}
	}
}

// WithPublisher sets the terminal publisher.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithMinRelevance sets the direct-mode relevance threshold.
func WithMinRelevance(v float64) Option {
	return func(o *Orchestrator) {
		if v >= 0 {
			o.minRelevance = v
		}
	}
}

// WithQualityGate sets the pass score and retry bound.
func WithQualityGate(passScore, maxRetries int) Option {
	return func(o *Orchestrator) {
		if passScore >= 0 {
			o.passScore = ClampScore(passScore)
		}
		if maxRetries >= 0 {
			o.maxRetries = maxRetries
		}
	}
}

// WithPublishTimeout bounds a single publish call.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.publishTimeout = d
		}
	}
}

// WithJournal records transitions in an operator journal.
func WithJournal(j *logbook.Logbook) Option {
	return func(o *Orchestrator) {
		o.journal = j
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records transitions and sweep durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}
