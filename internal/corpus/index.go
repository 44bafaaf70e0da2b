package corpus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kingrea/foundry/internal/store"
)

// entryNamespace seeds the name-based entry ids.
var entryNamespace = uuid.MustParse("6f0c3b9e-5d2a-4c1e-9a57-3e8b2f41d7c0")

// EntryIDFor derives the entry id of a signal. The id is a name-based UUID
// of the exact signal id, so distinct signals never share an entry and the
// id is always safe as a file name.
func EntryIDFor(signalID string) string {
	id := uuid.NewSHA1(entryNamespace, []byte(strings.TrimSpace(signalID)))
	return "entry-" + strings.ReplaceAll(id.String(), "-", "")
}

// ClusterKey is the chain key used for a cluster in the orchestration ledger
// and in production briefs.
func ClusterKey(theme string) string {
	return "cluster:" + NormalizeTheme(theme)
}

// NormalizeTheme lowercases a theme and joins its words with dashes.
func NormalizeTheme(theme string) string {
	return strings.Join(strings.Fields(strings.ToLower(theme)), "-")
}

// NormalizeThemes normalizes, de-duplicates and caps themes, keeping order.
func NormalizeThemes(themes []string, max int) []string {
	out := make([]string, 0, max)
	seen := map[string]struct{}{}
	for _, theme := range themes {
		norm := NormalizeTheme(theme)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
		if len(out) == max {
			break
		}
	}
	return out
}

// loadIndex reads theme -> cluster. A missing index is an empty corpus.
func (a *Accumulator) loadIndex() (map[string]*Cluster, error) {
	index := map[string]*Cluster{}
	err := store.ReadJSON(a.layout.IndexPath(), &index)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("corpus: load index: %w", err)
	}
	if index == nil {
		index = map[string]*Cluster{}
	}
	return index, nil
}

func (a *Accumulator) saveIndex(index map[string]*Cluster) error {
	if err := store.WriteJSONAtomic(a.layout.IndexPath(), index); err != nil {
		return fmt.Errorf("corpus: save index: %w", err)
	}
	return nil
}
