package queue

import (
	"log/slog"
	"time"

	"github.com/kingrea/foundry/internal/logging"
	"github.com/kingrea/foundry/internal/metrics"
	"github.com/kingrea/foundry/internal/store"
)

const (
	// DefaultLease bounds how long a claim stays valid without a heartbeat.
	DefaultLease = 30 * time.Minute
	// DefaultMaxClaimAttempts caps reclaims of a task before it is failed.
	DefaultMaxClaimAttempts = 3
	// DefaultLockWait bounds how long completion paths wait for a claim in flight.
	DefaultLockWait = 2 * time.Second

	lockRetryInterval = 10 * time.Millisecond
)

// Option customizes Manager construction.
type Option func(*Manager)

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithLocker replaces the default file locker.
func WithLocker(l store.Locker) Option {
	return func(m *Manager) {
		if l != nil {
			m.locker = l
		}
	}
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithLease sets the claim lease and the reclaim cap. A zero lease disables
// lease stamping, which also makes Reap a no-op.
func WithLease(lease time.Duration, maxClaimAttempts int) Option {
	return func(m *Manager) {
		if lease >= 0 {
			m.lease = lease
		}
		if maxClaimAttempts > 0 {
			m.maxClaimAttempts = maxClaimAttempts
		}
	}
}

// WithLockWait bounds how long Complete/Fail/Heartbeat wait for the task lock.
func WithLockWait(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lockWait = d
		}
	}
}

func defaultLogger() *slog.Logger {
	return logging.Discard()
}
