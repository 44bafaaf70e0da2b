package queue

import (
	"errors"
	"fmt"

	"github.com/kingrea/foundry/internal/store"
)

// ReapReport lists the outcome of one reclamation pass.
type ReapReport struct {
	Requeued []string
	Failed   []string
}

// Reap returns Processing tasks whose lease expired to Pending so another
// worker can pick them up. A task that has already been claimed
// maxClaimAttempts times is failed instead, which stops a poison task from
// cycling forever. Tasks whose lock is held are left for the next pass.
func (m *Manager) Reap() (ReapReport, error) {
	var report ReapReport
	if m.lease <= 0 {
		return report, nil
	}
	tasks, err := m.ListProcessing()
	if err != nil {
		return report, err
	}
	now := m.now().UTC()
	for _, candidate := range tasks {
		if candidate.LeaseExpiresAt == nil || now.Before(*candidate.LeaseExpiresAt) {
			continue
		}
		outcome, err := m.reapOne(candidate.ID)
		if err != nil {
			if errors.Is(err, store.ErrLocked) {
				continue
			}
			m.logger.Warn("reap task", "task_id", candidate.ID, "err", err)
			continue
		}
		switch outcome {
		case store.StatusPending:
			report.Requeued = append(report.Requeued, candidate.ID)
		case store.StatusFailed:
			report.Failed = append(report.Failed, candidate.ID)
		}
	}
	return report, nil
}

func (m *Manager) reapOne(taskID string) (store.Status, error) {
	release, err := m.locker.TryLock(taskID)
	if err != nil {
		return "", err
	}
	defer release()

	processingPath := m.layout.TaskPath(store.StatusProcessing, taskID)
	task, err := store.ReadTask(processingPath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	now := m.stamp()
	if task.LeaseExpiresAt == nil || now.Before(*task.LeaseExpiresAt) {
		// Heartbeat landed between listing and locking.
		return "", nil
	}
	staleOwner := task.ClaimedBy

	if task.ClaimAttempts >= m.maxClaimAttempts {
		task.Status = store.StatusFailed
		task.CompletedAt = &now
		task.LeaseExpiresAt = nil
		task.Error = fmt.Sprintf("claim attempts exhausted (%d): lease expired while held by %s", task.ClaimAttempts, staleOwner)
		if err := store.WriteJSONAtomic(m.layout.TaskPath(store.StatusCompleted, taskID), task); err != nil {
			return "", err
		}
		m.removeStale(processingPath)
		m.metrics.TaskReclaimed("failed")
		m.metrics.TaskFinished(string(task.AgentType), string(store.StatusFailed))
		m.logger.Warn("task failed after repeated lease expiry", "task_id", taskID, "attempts", task.ClaimAttempts)
		m.emit(store.EventTaskFailed, staleOwner, taskID, map[string]any{"reason": "claim attempts exhausted"})
		return store.StatusFailed, nil
	}

	task.Status = store.StatusPending
	task.ClaimedAt = nil
	task.ClaimedBy = ""
	task.LeaseExpiresAt = nil
	if err := store.WriteJSONAtomic(m.layout.TaskPath(store.StatusPending, taskID), task); err != nil {
		return "", err
	}
	m.removeStale(processingPath)
	m.metrics.TaskReclaimed("requeued")
	m.logger.Warn("task lease expired, requeued", "task_id", taskID, "stale_worker", staleOwner, "attempts", task.ClaimAttempts)
	m.emit(store.EventTaskReclaimed, staleOwner, taskID, map[string]any{"attempt": task.ClaimAttempts})
	return store.StatusPending, nil
}
