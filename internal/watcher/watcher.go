// Package watcher runs one worker's polling loop: find a pending task for
// the worker's agent type, win the claim, run the handler, record the
// outcome. Cancellation is honoured between cycles only; a claimed task
// always reaches a terminal state.
//
// agent_busy is emitted for every claimed task. agent_idle is emitted only
// when a cycle finds no work after the worker started or last processed a
// task; repeated empty polls stay silent.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/kingrea/foundry/internal/metrics"
	"github.com/kingrea/foundry/internal/queue"
	"github.com/kingrea/foundry/internal/store"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 10 * time.Second

// Handler processes one claimed task and returns its result.
type Handler interface {
	Handle(ctx context.Context, task store.Task) (json.RawMessage, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task store.Task) (json.RawMessage, error)

// Handle calls f(ctx, task).
func (f HandlerFunc) Handle(ctx context.Context, task store.Task) (json.RawMessage, error) {
	return f(ctx, task)
}

// Watcher is the per-worker supervisor loop.
type Watcher struct {
	queue     *queue.Manager
	agentType store.AgentType
	workerID  string
	handler   Handler

	pollInterval time.Duration
	heartbeat    time.Duration
	notify       bool
	logger       *slog.Logger
	metrics      *metrics.Metrics

	idle bool
}

// New builds a watcher for workerID serving agentType.
func New(q *queue.Manager, agentType store.AgentType, workerID string, h Handler, opts ...Option) (*Watcher, error) {
	if q == nil {
		return nil, errors.New("watcher: queue manager is required")
	}
	if h == nil {
		return nil, errors.New("watcher: handler is required")
	}
	if workerID == "" {
		return nil, errors.New("watcher: worker id is required")
	}
	switch agentType {
	case store.AgentAnalyzer, store.AgentVisualizer, store.AgentWriter, store.AgentReviewer:
	default:
		return nil, fmt.Errorf("watcher: unknown agent type %q", agentType)
	}
	w := &Watcher{
		queue:        q,
		agentType:    agentType,
		workerID:     workerID,
		handler:      h,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("agent_type", agentType, "worker_id", workerID)
	return w, nil
}

// Watch builds a watcher and runs it until ctx is cancelled.
func Watch(ctx context.Context, q *queue.Manager, agentType store.AgentType, workerID string, h Handler, pollInterval time.Duration) error {
	w, err := New(q, agentType, workerID, h, WithPollInterval(pollInterval))
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// Run loops until ctx is cancelled. After a processed task the next cycle
// starts immediately; an idle cycle sleeps for the poll interval or until
// a new pending task is noticed.
func (w *Watcher) Run(ctx context.Context) error {
	w.emit(store.EventAgentReady, nil)
	w.logger.Info("watcher started", "poll_interval", w.pollInterval)

	var wake <-chan struct{}
	if w.notify {
		ch, stop, err := notifyPending(w.queue.Layout().Pending, w.logger)
		if err != nil {
			w.logger.Warn("pending dir notifications unavailable, polling only", "err", err)
		} else {
			defer stop()
			wake = ch
		}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if ctx.Err() != nil {
			w.logger.Info("watcher stopped")
			return nil
		}
		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Warn("watch cycle", "err", err)
		}
		if processed {
			continue
		}
		timer.Reset(w.pollInterval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
		case <-wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}
	}
}

// RunOnce performs a single cycle and reports whether a task was processed.
// At most one task is claimed per cycle.
func (w *Watcher) RunOnce(ctx context.Context) (bool, error) {
	candidates, err := w.queue.ListPending(w.agentType)
	if err != nil {
		return false, err
	}
	for _, candidate := range candidates {
		task, err := w.queue.ClaimTask(w.workerID, candidate.ID)
		if err != nil {
			if !errors.Is(err, queue.ErrNotClaimable) {
				w.logger.Warn("claim", "task_id", candidate.ID, "err", err)
			}
			continue
		}
		w.process(ctx, task)
		return true, nil
	}
	if !w.idle {
		w.idle = true
		w.emit(store.EventAgentIdle, nil)
	}
	return false, nil
}

func (w *Watcher) process(ctx context.Context, task store.Task) {
	w.idle = false
	w.emit(store.EventAgentBusy, map[string]any{"taskId": task.ID})
	started := time.Now()

	// The handler outlives cancellation so the claim always resolves.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopHeartbeat := w.startHeartbeat(runCtx, task.ID)
	result, err := w.invoke(runCtx, task)
	stopHeartbeat()
	cancel()

	w.metrics.ObserveTask(string(w.agentType), time.Since(started))
	if err != nil {
		w.logger.Warn("task handler failed", "task_id", task.ID, "err", err)
		if _, ferr := w.queue.FailTaskAs(w.workerID, task.ID, err.Error()); ferr != nil {
			w.logger.Error("record task failure", "task_id", task.ID, "err", ferr)
		}
		return
	}
	if _, cerr := w.queue.CompleteTaskAs(w.workerID, task.ID, result); cerr != nil {
		w.logger.Error("record task completion", "task_id", task.ID, "err", cerr)
	}
}

func (w *Watcher) invoke(ctx context.Context, task store.Task) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("task handler panicked", "task_id", task.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	result, err = w.handler.Handle(ctx, task)
	if err == nil && len(result) > 0 && !json.Valid(result) {
		err = errors.New("handler returned invalid JSON result")
	}
	return result, err
}

// startHeartbeat renews the task lease until the returned stop is called.
func (w *Watcher) startHeartbeat(ctx context.Context, taskID string) func() {
	if w.heartbeat <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.Heartbeat(taskID, w.workerID); err != nil {
					w.logger.Warn("heartbeat", "task_id", taskID, "err", err)
				} else {
					w.logger.Debug("heartbeat sent", "task_id", taskID)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Watcher) emit(eventType store.EventType, payload any) {
	if err := w.queue.EmitEvent(eventType, w.workerID, payload); err != nil {
		w.logger.Debug("emit agent event", "type", eventType, "err", err)
	}
}
