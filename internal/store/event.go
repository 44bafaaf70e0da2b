package store

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType enumerates lifecycle notifications.
type EventType string

const (
	EventTaskCreated       EventType = "TaskCreated"
	EventTaskClaimed       EventType = "TaskClaimed"
	EventTaskCompleted     EventType = "TaskCompleted"
	EventTaskFailed        EventType = "TaskFailed"
	EventTaskReclaimed     EventType = "TaskReclaimed"
	EventAgentReady        EventType = "AgentReady"
	EventAgentBusy         EventType = "AgentBusy"
	EventAgentIdle         EventType = "AgentIdle"
	EventArtifactPublished EventType = "ArtifactPublished"
	EventPublishFailed     EventType = "PublishFailed"
)

// Event is an immutable, append-only notification record.
type Event struct {
	EventID   string          `json:"eventId"`
	Type      EventType       `json:"type"`
	AgentID   string          `json:"agentId,omitempty"`
	TaskID    string          `json:"taskId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validate enforces the minimum fields of a stored event.
func (e Event) Validate() error {
	if e.EventID == "" {
		return errors.New("eventId is required")
	}
	if e.Type == "" {
		return errors.New("type is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
