package queue

import "github.com/kingrea/foundry/internal/store"

// AgentCounts tallies one agent type's tasks by status.
type AgentCounts struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// Counts returns a per-agent tally across every status directory. Like
// ListPending it is a snapshot; a task mid-move is counted in its later state.
func (m *Manager) Counts() (map[store.AgentType]AgentCounts, error) {
	out := make(map[store.AgentType]AgentCounts)
	pending, err := m.ListPending("")
	if err != nil {
		return nil, err
	}
	for _, task := range pending {
		c := out[task.AgentType]
		c.Pending++
		out[task.AgentType] = c
	}
	processing, err := m.ListProcessing()
	if err != nil {
		return nil, err
	}
	for _, task := range processing {
		c := out[task.AgentType]
		c.Processing++
		out[task.AgentType] = c
	}
	done, err := m.ListCompleted()
	if err != nil {
		return nil, err
	}
	for _, task := range done {
		c := out[task.AgentType]
		if task.Status == store.StatusFailed {
			c.Failed++
		} else {
			c.Completed++
		}
		out[task.AgentType] = c
	}
	return out, nil
}
