// Package corpus accumulates analyzed signals into theme clusters and decides
// when a cluster has enough independent support, and has dwelled long enough,
// to be worth producing an artifact from.
package corpus

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/foundry/internal/logging"
	"github.com/kingrea/foundry/internal/store"
)

const (
	DefaultMinEntries = 3
	DefaultMinAge     = 72 * time.Hour
	DefaultMaxThemes  = 2

	maxBriefInsights = 12
)

// Option customizes an Accumulator.
type Option func(*Accumulator)

// WithThresholds overrides the ripeness thresholds. Non-positive values keep
// the defaults.
func WithThresholds(minEntries int, minAge time.Duration) Option {
	return func(a *Accumulator) {
		if minEntries > 0 {
			a.minEntries = minEntries
		}
		if minAge > 0 {
			a.minAge = minAge
		}
	}
}

// WithMaxThemes caps how many themes one entry is filed under.
func WithMaxThemes(n int) Option {
	return func(a *Accumulator) {
		if n > 0 {
			a.maxThemes = n
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(a *Accumulator) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Accumulator) {
		if l != nil {
			a.logger = l
		}
	}
}

// Accumulator owns corpus/entries and corpus/index.json. It assumes a single
// writer process (the orchestrator); the mutex only serializes goroutines.
type Accumulator struct {
	layout     store.Layout
	minEntries int
	minAge     time.Duration
	maxThemes  int
	now        func() time.Time
	logger     *slog.Logger

	mu sync.Mutex
}

// New prepares an accumulator over layout.
func New(layout store.Layout, opts ...Option) *Accumulator {
	a := &Accumulator{
		layout:     layout,
		minEntries: DefaultMinEntries,
		minAge:     DefaultMinAge,
		maxThemes:  DefaultMaxThemes,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// AddEntry files one analyzed signal. Re-adding a signal returns the existing
// entry id without changing anything, except that a cluster missing the
// entry (an earlier run stopped between the two writes) is repaired.
func (a *Accumulator) AddEntry(signalID string, analysis Analysis, raw store.Signal) (string, error) {
	signalID = strings.TrimSpace(signalID)
	if signalID == "" {
		return "", fmt.Errorf("corpus: signal id is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	entryID := EntryIDFor(signalID)
	var entry Entry
	err := store.ReadJSON(a.layout.EntryPath(entryID), &entry)
	switch {
	case err == nil:
		if entry.SignalID != signalID {
			return "", fmt.Errorf("%w: %s holds signal %q, not %q", ErrEntryConflict, entryID, entry.SignalID, signalID)
		}
	case errors.Is(err, store.ErrNotFound):
		entry = Entry{
			EntryID:        entryID,
			SignalID:       signalID,
			Themes:         NormalizeThemes(analysis.Themes, a.maxThemes),
			RelevanceScore: analysis.RelevanceScore,
			Summary:        strings.TrimSpace(analysis.Summary),
			Insights:       analysis.Insights,
			SourceTitle:    raw.Title,
			SourceURL:      raw.URL,
			CapturedAt:     a.now().UTC(),
		}
		if err := store.WriteJSONAtomic(a.layout.EntryPath(entryID), entry); err != nil {
			return "", fmt.Errorf("corpus: write entry %s: %w", entryID, err)
		}
	default:
		return "", fmt.Errorf("corpus: read entry %s: %w", entryID, err)
	}

	index, err := a.loadIndex()
	if err != nil {
		return "", err
	}
	dirty := false
	for _, theme := range entry.Themes {
		cluster, ok := index[theme]
		if !ok {
			cluster = &Cluster{
				Theme:     theme,
				FirstSeen: entry.CapturedAt,
				Maturity:  MaturityAccumulating,
			}
			index[theme] = cluster
		}
		if cluster.hasEntry(entryID) {
			continue
		}
		cluster.EntryIDs = append(cluster.EntryIDs, entryID)
		if entry.CapturedAt.After(cluster.LastSeen) {
			cluster.LastSeen = entry.CapturedAt
		}
		dirty = true
	}
	if dirty {
		if err := a.saveIndex(index); err != nil {
			return "", err
		}
		a.logger.Info("corpus entry filed", "signal_id", signalID, "entry_id", entryID, "themes", strings.Join(entry.Themes, ","))
	}
	return entryID, nil
}

// GetRipeClusters returns clusters that have at least MinEntries entries, are
// at least MinAge old and are not yet published, strongest first. Clusters
// observed ripe for the first time are persisted as Ripe.
func (a *Accumulator) GetRipeClusters() ([]Cluster, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	index, err := a.loadIndex()
	if err != nil {
		return nil, err
	}
	now := a.now().UTC()
	var (
		ripe  []Cluster
		dirty bool
	)
	for _, cluster := range index {
		if !a.isRipe(cluster, now) {
			continue
		}
		if cluster.Maturity == MaturityAccumulating {
			cluster.Maturity = MaturityRipe
			dirty = true
		}
		c := *cluster
		c.Quality = a.meanRelevance(c.EntryIDs)
		ripe = append(ripe, c)
	}
	if dirty {
		if err := a.saveIndex(index); err != nil {
			return nil, err
		}
	}
	sort.Slice(ripe, func(i, j int) bool {
		if ripe[i].Quality == ripe[j].Quality {
			return ripe[i].Theme < ripe[j].Theme
		}
		return ripe[i].Quality > ripe[j].Quality
	})
	return ripe, nil
}

func (a *Accumulator) isRipe(c *Cluster, now time.Time) bool {
	switch c.Maturity {
	case MaturityPublished:
		return false
	case MaturityRipe:
		return true
	}
	if len(c.EntryIDs) < a.minEntries {
		return false
	}
	return now.Sub(c.FirstSeen) >= a.minAge
}

// MarkPublished records that theme's cluster produced artifactID and stamps
// every member entry. Publishing is irreversible; marking an already
// published cluster is a no-op.
func (a *Accumulator) MarkPublished(theme, artifactID string) error {
	theme = NormalizeTheme(theme)
	a.mu.Lock()
	defer a.mu.Unlock()
	index, err := a.loadIndex()
	if err != nil {
		return err
	}
	cluster, ok := index[theme]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTheme, theme)
	}
	if cluster.Maturity == MaturityPublished {
		return nil
	}
	for _, id := range cluster.EntryIDs {
		var entry Entry
		if err := store.ReadJSON(a.layout.EntryPath(id), &entry); err != nil {
			a.logger.Warn("skipping unreadable corpus entry", "entry_id", id, "err", err)
			continue
		}
		artifact := artifactID
		entry.UsedInArtifact = &artifact
		if err := store.WriteJSONAtomic(a.layout.EntryPath(id), entry); err != nil {
			return fmt.Errorf("corpus: stamp entry %s: %w", id, err)
		}
	}
	artifact := artifactID
	cluster.Maturity = MaturityPublished
	cluster.PublishedArtifactID = &artifact
	if err := a.saveIndex(index); err != nil {
		return err
	}
	a.logger.Info("cluster published", "theme", theme, "artifact_id", artifactID)
	return nil
}

// Cluster returns one cluster by theme.
func (a *Accumulator) Cluster(theme string) (Cluster, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	index, err := a.loadIndex()
	if err != nil {
		return Cluster{}, err
	}
	cluster, ok := index[NormalizeTheme(theme)]
	if !ok {
		return Cluster{}, fmt.Errorf("%w: %s", ErrUnknownTheme, theme)
	}
	c := *cluster
	c.Quality = a.meanRelevance(c.EntryIDs)
	return c, nil
}

// Clusters returns every cluster ordered by theme.
func (a *Accumulator) Clusters() ([]Cluster, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	index, err := a.loadIndex()
	if err != nil {
		return nil, err
	}
	out := make([]Cluster, 0, len(index))
	for _, cluster := range index {
		c := *cluster
		c.Quality = a.meanRelevance(c.EntryIDs)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Theme < out[j].Theme })
	return out, nil
}

// Entries loads the member entries of a cluster in insertion order.
func (a *Accumulator) Entries(c Cluster) []Entry {
	out := make([]Entry, 0, len(c.EntryIDs))
	for _, id := range c.EntryIDs {
		var entry Entry
		if err := store.ReadJSON(a.layout.EntryPath(id), &entry); err != nil {
			a.logger.Warn("skipping unreadable corpus entry", "entry_id", id, "err", err)
			continue
		}
		out = append(out, entry)
	}
	return out
}

// Brief condenses a cluster into the subject of a production chain.
func (a *Accumulator) Brief(c Cluster) store.Brief {
	entries := a.Entries(c)
	brief := store.Brief{
		Key:            ClusterKey(c.Theme),
		Theme:          c.Theme,
		EntryIDs:       append([]string(nil), c.EntryIDs...),
		RelevanceScore: c.Quality,
	}
	seen := map[string]struct{}{}
	var summaries []string
	for _, entry := range entries {
		if entry.Summary != "" {
			summaries = append(summaries, entry.Summary)
		}
		for _, insight := range entry.Insights {
			insight = strings.TrimSpace(insight)
			if insight == "" {
				continue
			}
			if _, dup := seen[insight]; dup {
				continue
			}
			if len(brief.Insights) >= maxBriefInsights {
				break
			}
			seen[insight] = struct{}{}
			brief.Insights = append(brief.Insights, insight)
		}
	}
	brief.Summary = fmt.Sprintf("%d signals on %q: %s", len(entries), c.Theme, strings.Join(summaries, " | "))
	return brief
}

func (a *Accumulator) meanRelevance(ids []string) float64 {
	var (
		sum   float64
		count int
	)
	for _, id := range ids {
		var entry Entry
		if err := store.ReadJSON(a.layout.EntryPath(id), &entry); err != nil {
			continue
		}
		sum += entry.RelevanceScore
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// ThemesOf returns the themes the entry was filed under, or nil when the
// entry cannot be read.
func (a *Accumulator) ThemesOf(entryID string) []string {
	var entry Entry
	if err := store.ReadJSON(a.layout.EntryPath(entryID), &entry); err != nil {
		return nil
	}
	return entry.Themes
}
