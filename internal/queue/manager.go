// Package queue implements the task lifecycle over the persisted store:
// creation, race-free claiming, completion, lease heartbeats and reclamation,
// plus the append-only event log.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kingrea/foundry/internal/metrics"
	"github.com/kingrea/foundry/internal/store"
)

// Manager exposes atomic task operations. Every process sharing a .foundry
// tree runs its own Manager; they coordinate only through the files and the
// per-task lock.
type Manager struct {
	layout           store.Layout
	locker           store.Locker
	logger           *slog.Logger
	metrics          *metrics.Metrics
	now              func() time.Time
	lease            time.Duration
	maxClaimAttempts int
	lockWait         time.Duration

	mu        sync.Mutex
	lastStamp time.Time
}

// New prepares a manager over layout. The layout directories are created
// lazily by the writes themselves.
func New(layout store.Layout, opts ...Option) *Manager {
	m := &Manager{
		layout:           layout,
		locker:           store.NewFileLocker(layout.Locks),
		logger:           defaultLogger(),
		now:              func() time.Time { return time.Now().UTC() },
		lease:            DefaultLease,
		maxClaimAttempts: DefaultMaxClaimAttempts,
		lockWait:         DefaultLockWait,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Layout returns the directory layout the manager operates on.
func (m *Manager) Layout() store.Layout {
	return m.layout
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.now()
}

// stamp returns a strictly increasing timestamp within this process so ids
// and events keep a total order even when the clock does not advance.
func (m *Manager) stamp() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if !now.After(m.lastStamp) {
		now = m.lastStamp.Add(time.Nanosecond)
	}
	m.lastStamp = now
	return now
}

// CreateTask writes a Pending task for agentType and emits TaskCreated.
func (m *Manager) CreateTask(agentType store.AgentType, payload store.Payload) (string, error) {
	if agentType == "" {
		return "", fmt.Errorf("queue: agent type is required")
	}
	if payload == nil {
		return "", fmt.Errorf("queue: payload is required")
	}
	now := m.stamp()
	task := store.Task{
		ID:        store.NewTaskID(now, agentType, payload.TaskType()),
		AgentType: agentType,
		TaskType:  payload.TaskType(),
		Payload:   payload,
		Status:    store.StatusPending,
		CreatedAt: now,
	}
	if err := task.Validate(); err != nil {
		return "", fmt.Errorf("queue: %w", err)
	}
	if err := store.WriteJSONAtomic(m.layout.TaskPath(store.StatusPending, task.ID), task); err != nil {
		return "", fmt.Errorf("queue: create %s: %w", task.ID, err)
	}
	m.metrics.TaskCreated(string(agentType))
	m.logger.Debug("task created", "task_id", task.ID, "agent_type", agentType, "task_type", task.TaskType)
	m.emit(store.EventTaskCreated, "", task.ID, map[string]any{
		"agentType": agentType,
		"taskType":  task.TaskType,
	})
	return task.ID, nil
}

// ClaimTask moves a Pending task to Processing on behalf of workerID. The
// lock, the status re-check and the move happen under one non-blocking
// per-task lock, so concurrent claimers see exactly one winner; every loser
// gets ErrNotClaimable immediately.
func (m *Manager) ClaimTask(workerID, taskID string) (store.Task, error) {
	if workerID == "" {
		return store.Task{}, fmt.Errorf("queue: worker id is required")
	}
	release, err := m.locker.TryLock(taskID)
	if err != nil {
		if errors.Is(err, store.ErrLocked) {
			m.metrics.ClaimConflict("unknown")
			return store.Task{}, ErrNotClaimable
		}
		return store.Task{}, fmt.Errorf("queue: lock %s: %w", taskID, err)
	}
	defer release()

	pendingPath := m.layout.TaskPath(store.StatusPending, taskID)
	task, err := store.ReadTask(pendingPath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Task{}, ErrNotClaimable
		}
		return store.Task{}, fmt.Errorf("queue: claim %s: %w", taskID, err)
	}
	if m.movedOn(taskID) {
		// An earlier claim or reclaim was interrupted after writing the next
		// state; the pending copy is stale.
		m.removeStale(pendingPath)
		return store.Task{}, ErrNotClaimable
	}
	if task.Status != store.StatusPending {
		m.metrics.ClaimConflict(string(task.AgentType))
		return store.Task{}, ErrNotClaimable
	}

	now := m.stamp()
	task.Status = store.StatusProcessing
	task.ClaimedAt = &now
	task.ClaimedBy = workerID
	task.ClaimAttempts++
	if m.lease > 0 {
		expires := now.Add(m.lease)
		task.LeaseExpiresAt = &expires
	}
	if err := store.WriteJSONAtomic(m.layout.TaskPath(store.StatusProcessing, taskID), task); err != nil {
		return store.Task{}, fmt.Errorf("queue: claim %s: %w", taskID, err)
	}
	m.removeStale(pendingPath)

	m.metrics.TaskClaimed(string(task.AgentType))
	m.logger.Info("task claimed", "task_id", taskID, "agent_type", task.AgentType, "worker_id", workerID)
	m.emit(store.EventTaskClaimed, workerID, taskID, map[string]any{"attempt": task.ClaimAttempts})
	return task, nil
}

// CompleteTask records result on a Processing task. A task that vanished
// yields (false, nil) so retried completions are harmless; a task already in
// a terminal state yields (false, ErrAlreadyTerminal) and is left unchanged.
func (m *Manager) CompleteTask(taskID string, result json.RawMessage) (bool, error) {
	return m.finish(taskID, "", store.StatusCompleted, result, "")
}

// FailTask is the failure counterpart of CompleteTask.
func (m *Manager) FailTask(taskID, errorMessage string) (bool, error) {
	return m.finish(taskID, "", store.StatusFailed, nil, errorMessage)
}

// CompleteTaskAs is CompleteTask for a worker that must still hold the claim.
// A task reclaimed and handed to another worker yields ErrNotOwner and keeps
// the new owner's claim.
func (m *Manager) CompleteTaskAs(workerID, taskID string, result json.RawMessage) (bool, error) {
	return m.finish(taskID, workerID, store.StatusCompleted, result, "")
}

// FailTaskAs is the failure counterpart of CompleteTaskAs.
func (m *Manager) FailTaskAs(workerID, taskID, errorMessage string) (bool, error) {
	return m.finish(taskID, workerID, store.StatusFailed, nil, errorMessage)
}

// finish moves a Processing task to its terminal state. An empty owner skips
// the claim check.
func (m *Manager) finish(taskID, owner string, status store.Status, result json.RawMessage, errMsg string) (bool, error) {
	release, err := m.lockWithWait(taskID)
	if err != nil {
		return false, fmt.Errorf("queue: lock %s: %w", taskID, err)
	}
	defer release()

	processingPath := m.layout.TaskPath(store.StatusProcessing, taskID)
	task, err := store.ReadTask(processingPath)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("queue: finish %s: %w", taskID, err)
		}
		if done, err := store.ReadTask(m.layout.TaskPath(store.StatusCompleted, taskID)); err == nil {
			return false, fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, taskID, done.Status)
		}
		if store.Exists(m.layout.TaskPath(store.StatusPending, taskID)) {
			return false, fmt.Errorf("%w: %s", ErrNotProcessing, taskID)
		}
		return false, nil
	}
	if owner != "" && task.ClaimedBy != owner {
		return false, fmt.Errorf("%w: %s held by %s", ErrNotOwner, taskID, task.ClaimedBy)
	}
	completedPath := m.layout.TaskPath(store.StatusCompleted, taskID)
	if store.Exists(completedPath) {
		m.removeStale(processingPath)
		return false, fmt.Errorf("%w: %s", ErrAlreadyTerminal, taskID)
	}

	now := m.stamp()
	task.Status = status
	task.CompletedAt = &now
	task.LeaseExpiresAt = nil
	if len(result) > 0 {
		task.Result = result
	}
	task.Error = errMsg
	if err := store.WriteJSONAtomic(completedPath, task); err != nil {
		return false, fmt.Errorf("queue: finish %s: %w", taskID, err)
	}
	m.removeStale(processingPath)

	m.metrics.TaskFinished(string(task.AgentType), string(status))
	eventType := store.EventTaskCompleted
	if status == store.StatusFailed {
		eventType = store.EventTaskFailed
		m.logger.Warn("task failed", "task_id", taskID, "agent_type", task.AgentType, "err", errMsg)
	} else {
		m.logger.Info("task completed", "task_id", taskID, "agent_type", task.AgentType)
	}
	m.emit(eventType, task.ClaimedBy, taskID, map[string]any{"status": status})
	return true, nil
}

// Heartbeat extends the lease of a Processing task held by workerID.
func (m *Manager) Heartbeat(taskID, workerID string) error {
	if m.lease <= 0 {
		return nil
	}
	release, err := m.lockWithWait(taskID)
	if err != nil {
		return fmt.Errorf("queue: lock %s: %w", taskID, err)
	}
	defer release()
	path := m.layout.TaskPath(store.StatusProcessing, taskID)
	task, err := store.ReadTask(path)
	if err != nil {
		return fmt.Errorf("queue: heartbeat %s: %w", taskID, err)
	}
	if task.ClaimedBy != workerID {
		return fmt.Errorf("%w: %s held by %s", ErrNotOwner, taskID, task.ClaimedBy)
	}
	expires := m.now().UTC().Add(m.lease)
	task.LeaseExpiresAt = &expires
	return store.WriteJSONAtomic(path, task)
}

// Get returns the current record of a task wherever it lives.
func (m *Manager) Get(taskID string) (store.Task, error) {
	for _, status := range []store.Status{store.StatusCompleted, store.StatusProcessing, store.StatusPending} {
		task, err := store.ReadTask(m.layout.TaskPath(status, taskID))
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Task{}, err
		}
	}
	return store.Task{}, fmt.Errorf("queue: task %s: %w", taskID, store.ErrNotFound)
}

// ListPending returns a snapshot of claimable tasks in creation order,
// optionally filtered by agentType. The snapshot races with concurrent
// claims: callers must still win ClaimTask before acting on a task.
func (m *Manager) ListPending(agentType store.AgentType) ([]store.Task, error) {
	tasks, err := m.list(store.StatusPending)
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, task := range tasks {
		if agentType != "" && task.AgentType != agentType {
			continue
		}
		if task.Status != store.StatusPending || m.movedOn(task.ID) {
			continue
		}
		out = append(out, task)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListProcessing returns the tasks currently claimed by a worker.
func (m *Manager) ListProcessing() ([]store.Task, error) {
	tasks, err := m.list(store.StatusProcessing)
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, task := range tasks {
		if store.Exists(m.layout.TaskPath(store.StatusCompleted, task.ID)) {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

// ListCompleted returns every terminal task (Completed and Failed) ordered
// by task id. Failed tasks are retained indefinitely for inspection.
func (m *Manager) ListCompleted() ([]store.Task, error) {
	return m.list(store.StatusCompleted)
}

// list reads every task in a status directory. Unreadable files are logged
// and skipped so one corrupt record never blocks the rest.
func (m *Manager) list(status store.Status) ([]store.Task, error) {
	ids, err := store.ListIDs(m.layout.StatusDir(status))
	if err != nil {
		return nil, fmt.Errorf("queue: list %s: %w", status, err)
	}
	tasks := make([]store.Task, 0, len(ids))
	for _, id := range ids {
		task, err := store.ReadTask(m.layout.TaskPath(status, id))
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				m.logger.Warn("skipping unreadable task", "task_id", id, "dir", status, "err", err)
			}
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// movedOn reports whether the task already exists in a later state.
func (m *Manager) movedOn(taskID string) bool {
	return store.Exists(m.layout.TaskPath(store.StatusProcessing, taskID)) ||
		store.Exists(m.layout.TaskPath(store.StatusCompleted, taskID))
}

func (m *Manager) removeStale(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("remove stale task copy", "path", path, "err", err)
	}
}

// lockWithWait retries the try-lock for a short bounded window; completion
// paths contend only with a claim or heartbeat that finishes quickly.
func (m *Manager) lockWithWait(taskID string) (func(), error) {
	deadline := time.Now().Add(m.lockWait)
	for {
		release, err := m.locker.TryLock(taskID)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, store.ErrLocked) || time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(lockRetryInterval)
	}
}
