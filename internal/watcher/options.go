package watcher

import (
	"log/slog"
	"time"

	"github.com/kingrea/foundry/internal/metrics"
)

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval sets the sleep between idle cycles.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithHeartbeat renews the claim lease every d while a handler runs.
// Zero disables renewal.
func WithHeartbeat(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.heartbeat = d
		}
	}
}

// WithNotify wakes idle cycles early when files land in the pending dir.
func WithNotify(enabled bool) Option {
	return func(w *Watcher) {
		w.notify = enabled
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMetrics records handler durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) {
		w.metrics = m
	}
}
