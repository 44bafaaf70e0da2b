package corpus

import (
	"errors"
	"time"
)

var (
	// ErrUnknownTheme is returned when a cluster lookup misses.
	ErrUnknownTheme = errors.New("corpus: unknown theme")
	// ErrEntryConflict means an entry file belongs to a different signal.
	ErrEntryConflict = errors.New("corpus: entry belongs to another signal")
)

// Maturity is the one-way lifecycle of a cluster.
type Maturity string

const (
	MaturityAccumulating Maturity = "accumulating"
	MaturityRipe         Maturity = "ripe"
	MaturityPublished    Maturity = "published"
)

// Analysis is the part of an analyzer result the corpus keeps.
type Analysis struct {
	Themes         []string `json:"themes"`
	RelevanceScore float64  `json:"relevanceScore"`
	Summary        string   `json:"summary"`
	Insights       []string `json:"insights,omitempty"`
}

// Entry is the durable knowledge extracted from one analyzed signal.
type Entry struct {
	EntryID        string    `json:"entryId"`
	SignalID       string    `json:"signalId"`
	Themes         []string  `json:"themes"`
	RelevanceScore float64   `json:"relevanceScore"`
	Summary        string    `json:"summary"`
	Insights       []string  `json:"insights,omitempty"`
	SourceTitle    string    `json:"sourceTitle,omitempty"`
	SourceURL      string    `json:"sourceUrl,omitempty"`
	CapturedAt     time.Time `json:"capturedAt"`
	UsedInArtifact *string   `json:"usedInArtifact"`
}

// Cluster groups entries that share a theme.
type Cluster struct {
	Theme               string    `json:"theme"`
	EntryIDs            []string  `json:"entryIds"`
	FirstSeen           time.Time `json:"firstSeen"`
	LastSeen            time.Time `json:"lastSeen"`
	Maturity            Maturity  `json:"maturity"`
	PublishedArtifactID *string   `json:"publishedArtifactId"`
	// Quality is the mean relevance of member entries, filled on read.
	Quality float64 `json:"-"`
}

func (c *Cluster) hasEntry(id string) bool {
	for _, existing := range c.EntryIDs {
		if existing == id {
			return true
		}
	}
	return false
}
