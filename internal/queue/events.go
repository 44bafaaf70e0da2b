package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kingrea/foundry/internal/store"
)

// EmitEvent appends an event on behalf of agentID. payload may be nil.
func (m *Manager) EmitEvent(eventType store.EventType, agentID string, payload any) error {
	return m.appendEvent(eventType, agentID, "", payload)
}

// ListEvents returns all events at or after since, oldest first. A zero since
// returns the whole log.
func (m *Manager) ListEvents(since time.Time) ([]store.Event, error) {
	ids, err := store.ListIDs(m.layout.Events)
	if err != nil {
		return nil, fmt.Errorf("queue: list events: %w", err)
	}
	events := make([]store.Event, 0, len(ids))
	for _, id := range ids {
		var event store.Event
		if err := store.ReadJSON(m.layout.EventPath(id), &event); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				m.logger.Warn("skipping unreadable event", "event_id", id, "err", err)
			}
			continue
		}
		if err := event.Validate(); err != nil {
			m.logger.Warn("skipping invalid event", "event_id", id, "err", err)
			continue
		}
		if !since.IsZero() && event.Timestamp.Before(since) {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// emit is the fire-and-forget path used by lifecycle operations: a failed
// append is logged, never returned.
func (m *Manager) emit(eventType store.EventType, agentID, taskID string, payload any) {
	if err := m.appendEvent(eventType, agentID, taskID, payload); err != nil {
		m.logger.Warn("append event", "type", eventType, "task_id", taskID, "err", err)
	}
}

func (m *Manager) appendEvent(eventType store.EventType, agentID, taskID string, payload any) error {
	ts := m.stamp()
	event := store.Event{
		EventID:   store.NewEventID(ts),
		Type:      eventType,
		AgentID:   agentID,
		TaskID:    taskID,
		Timestamp: ts,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("queue: encode event payload: %w", err)
		}
		event.Payload = raw
	}
	if err := store.WriteJSONAtomic(m.layout.EventPath(event.EventID), event); err != nil {
		return fmt.Errorf("queue: append event: %w", err)
	}
	return nil
}
