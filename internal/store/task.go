package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// AgentType names the worker role that should claim a task.
type AgentType string

const (
	AgentAnalyzer   AgentType = "analyzer"
	AgentVisualizer AgentType = "visualizer"
	AgentWriter     AgentType = "writer"
	AgentReviewer   AgentType = "reviewer"
)

// TaskType names the operation a task asks its agent to perform.
type TaskType string

const (
	TaskAnalyzeSignal  TaskType = "analyze_signal"
	TaskDesignVisual   TaskType = "design_visual"
	TaskWriteArtifact  TaskType = "write_artifact"
	TaskReviewArtifact TaskType = "review_artifact"
)

// AgentFor returns the agent role responsible for a task type.
func AgentFor(tt TaskType) (AgentType, bool) {
	switch tt {
	case TaskAnalyzeSignal:
		return AgentAnalyzer, true
	case TaskDesignVisual:
		return AgentVisualizer, true
	case TaskWriteArtifact:
		return AgentWriter, true
	case TaskReviewArtifact:
		return AgentReviewer, true
	default:
		return "", false
	}
}

// Status enumerates the task lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one unit of dispatchable work as persisted under queue/tasks.
type Task struct {
	ID          string          `json:"taskId"`
	AgentType   AgentType       `json:"agentType"`
	TaskType    TaskType        `json:"taskType"`
	Payload     Payload         `json:"payload"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	ClaimedAt   *time.Time      `json:"claimedAt"`
	ClaimedBy   string          `json:"claimedBy"`
	CompletedAt *time.Time      `json:"completedAt"`
	Result      json.RawMessage `json:"result"`
	Error       string          `json:"error"`
	// LeaseExpiresAt is set while Processing when leases are enabled.
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	ClaimAttempts  int        `json:"claimAttempts,omitempty"`
}

// UnmarshalJSON decodes the payload into the concrete type registered for the
// task's taskType.
func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := DecodePayload(t.TaskType, aux.Payload)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.Payload = payload
	return nil
}

// Validate checks the fields every persisted task must carry.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("taskId is required")
	}
	if t.AgentType == "" {
		return fmt.Errorf("task %s: agentType is required", t.ID)
	}
	if t.Payload == nil {
		return fmt.Errorf("task %s: payload is required", t.ID)
	}
	if t.Payload.TaskType() != t.TaskType {
		return fmt.Errorf("task %s: payload is %s, task is %s", t.ID, t.Payload.TaskType(), t.TaskType)
	}
	switch t.Status {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
	default:
		return fmt.Errorf("task %s: unknown status %q", t.ID, t.Status)
	}
	return nil
}
