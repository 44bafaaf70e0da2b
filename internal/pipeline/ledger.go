package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/kingrea/foundry/internal/store"
)

// State is what the orchestrator did with a source.
type State string

const (
	StateDispatched State = "dispatched"
	StateSkipped    State = "skipped"
	// StateTerminal closes a chain: the review was approved and the
	// artifact handed to the publisher.
	StateTerminal State = "terminal"
)

// Ledger targets that are not task ids.
const (
	NextCorpus = "corpus"
)

// Skip reasons.
const (
	ReasonLowScore      = "low-score"
	ReasonMaxRetries    = "max-retries"
	ReasonInvalidResult = "invalid-result"
)

// LedgerEntry records the single decision taken for a source key.
type LedgerEntry struct {
	State      State     `json:"state"`
	Next       string    `json:"next,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Ledger maps source keys (task ids, or cluster:<theme>) to decisions.
// Each key is written at most once.
type Ledger struct {
	path    string
	entries map[string]LedgerEntry
}

// LoadLedger reads the ledger at path. A missing file is an empty ledger; an
// unreadable one is moved aside and also treated as empty.
func LoadLedger(path string, logger *slog.Logger, now time.Time) (*Ledger, error) {
	l := &Ledger{path: path, entries: map[string]LedgerEntry{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("pipeline: read ledger: %w", err)
	}
	if err := json.Unmarshal(data, &l.entries); err != nil || l.entries == nil {
		aside := fmt.Sprintf("%s.corrupt-%d", path, now.Unix())
		if rerr := os.Rename(path, aside); rerr != nil {
			logger.Error("ledger unreadable and could not be moved aside", "path", path, "err", rerr)
		} else {
			logger.Warn("ledger unreadable, starting empty", "path", path, "moved_to", aside, "err", err)
		}
		l.entries = map[string]LedgerEntry{}
	}
	return l, nil
}

// Has reports whether key already has a decision.
func (l *Ledger) Has(key string) bool {
	_, ok := l.entries[key]
	return ok
}

// Get returns the decision for key.
func (l *Ledger) Get(key string) (LedgerEntry, bool) {
	e, ok := l.entries[key]
	return e, ok
}

// Len returns the number of recorded keys.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Keys returns all recorded keys in sorted order.
func (l *Ledger) Keys() []string {
	keys := make([]string, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// record stores e under key unless key already has a decision.
func (l *Ledger) record(key string, e LedgerEntry) bool {
	if l.Has(key) {
		return false
	}
	l.entries[key] = e
	return true
}

// Save persists the ledger atomically.
func (l *Ledger) Save() error {
	if err := store.WriteJSONAtomic(l.path, l.entries); err != nil {
		return fmt.Errorf("pipeline: save ledger: %w", err)
	}
	return nil
}
