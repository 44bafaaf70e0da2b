package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves every persisted location below a .foundry root.
type Layout struct {
	Root          string
	Pending       string
	Processing    string
	Completed     string
	Events        string
	Locks         string
	Orchestration string
	Corpus        string
	Entries       string
	Outbox        string
}

// NewLayout builds the layout rooted at root (usually <project>/.foundry).
func NewLayout(root string) Layout {
	queue := filepath.Join(root, "queue")
	corpus := filepath.Join(root, "corpus")
	return Layout{
		Root:          root,
		Pending:       filepath.Join(queue, "tasks", "pending"),
		Processing:    filepath.Join(queue, "tasks", "processing"),
		Completed:     filepath.Join(queue, "tasks", "completed"),
		Events:        filepath.Join(queue, "events"),
		Locks:         filepath.Join(queue, "locks"),
		Orchestration: filepath.Join(root, "orchestration"),
		Corpus:        corpus,
		Entries:       filepath.Join(corpus, "entries"),
		Outbox:        filepath.Join(root, "outbox"),
	}
}

// Ensure creates every directory of the layout.
func (l Layout) Ensure() error {
	dirs := []string{
		l.Pending,
		l.Processing,
		l.Completed,
		l.Events,
		l.Locks,
		l.Orchestration,
		l.Entries,
		l.Outbox,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// TaskPath returns where a task with the given status lives. Failed tasks
// share the completed directory.
func (l Layout) TaskPath(status Status, id string) string {
	return filepath.Join(l.StatusDir(status), id+".json")
}

// StatusDir returns the directory holding tasks of the given status.
func (l Layout) StatusDir(status Status) string {
	switch status {
	case StatusPending:
		return l.Pending
	case StatusProcessing:
		return l.Processing
	default:
		return l.Completed
	}
}

// EventPath returns the file of one event.
func (l Layout) EventPath(id string) string {
	return filepath.Join(l.Events, id+".json")
}

// LedgerPath returns the orchestration ledger location.
func (l Layout) LedgerPath() string {
	return filepath.Join(l.Orchestration, "ledger.json")
}

// IndexPath returns the corpus cluster index location.
func (l Layout) IndexPath() string {
	return filepath.Join(l.Corpus, "index.json")
}

// EntryPath returns the file of one corpus entry.
func (l Layout) EntryPath(id string) string {
	return filepath.Join(l.Entries, id+".json")
}
