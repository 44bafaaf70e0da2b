package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kingrea/foundry/internal/corpus"
	"github.com/kingrea/foundry/internal/logbook"
	"github.com/kingrea/foundry/internal/queue"
	"github.com/kingrea/foundry/internal/store"
)

const (
	maxFailedRows  = 8
	journalLines   = 8
	snapshotAgents = 4
)

var agentOrder = [snapshotAgents]store.AgentType{
	store.AgentAnalyzer,
	store.AgentVisualizer,
	store.AgentWriter,
	store.AgentReviewer,
}

// Sources are the read-only views a dashboard draws from.
type Sources struct {
	Queue   *queue.Manager
	Corpus  *corpus.Accumulator
	Journal *logbook.Logbook
	Mode    string
}

// AgentRow is one line of the per-agent table.
type AgentRow struct {
	Agent store.AgentType
	queue.AgentCounts
}

// Snapshot is everything one dashboard frame shows.
type Snapshot struct {
	TakenAt      time.Time
	Mode         string
	Agents       []AgentRow
	Failed       []store.Task
	Clusters     []corpus.Cluster
	Journal      []string
	JournalTotal int
	Errors       []string
}

// TakeSnapshot reads the current state. Read errors are collected on the
// snapshot rather than returned so a partial frame still renders.
func TakeSnapshot(src Sources, now time.Time) Snapshot {
	snap := Snapshot{TakenAt: now, Mode: src.Mode}
	if src.Queue != nil {
		counts, err := src.Queue.Counts()
		if err != nil {
			snap.Errors = append(snap.Errors, fmt.Sprintf("queue: %v", err))
		}
		for _, agent := range agentOrder {
			snap.Agents = append(snap.Agents, AgentRow{Agent: agent, AgentCounts: counts[agent]})
		}
		done, err := src.Queue.ListCompleted()
		if err != nil {
			snap.Errors = append(snap.Errors, fmt.Sprintf("tasks: %v", err))
		}
		for _, task := range done {
			if task.Status == store.StatusFailed {
				snap.Failed = append(snap.Failed, task)
			}
		}
		sort.SliceStable(snap.Failed, func(i, j int) bool {
			return finishedAt(snap.Failed[i]).After(finishedAt(snap.Failed[j]))
		})
		if len(snap.Failed) > maxFailedRows {
			snap.Failed = snap.Failed[:maxFailedRows]
		}
	}
	if src.Corpus != nil {
		clusters, err := src.Corpus.Clusters()
		if err != nil {
			snap.Errors = append(snap.Errors, fmt.Sprintf("corpus: %v", err))
		}
		sort.SliceStable(clusters, func(i, j int) bool {
			ri, rj := maturityRank(clusters[i].Maturity), maturityRank(clusters[j].Maturity)
			if ri != rj {
				return ri < rj
			}
			if len(clusters[i].EntryIDs) != len(clusters[j].EntryIDs) {
				return len(clusters[i].EntryIDs) > len(clusters[j].EntryIDs)
			}
			return clusters[i].Theme < clusters[j].Theme
		})
		snap.Clusters = clusters
	}
	snap.Journal, snap.JournalTotal = src.Journal.Tail(journalLines)
	return snap
}

func finishedAt(t store.Task) time.Time {
	if t.CompletedAt != nil {
		return *t.CompletedAt
	}
	return t.CreatedAt
}

func maturityRank(m corpus.Maturity) int {
	switch m {
	case corpus.MaturityRipe:
		return 0
	case corpus.MaturityAccumulating:
		return 1
	default:
		return 2
	}
}

// Plain renders the snapshot without styling, for pipes and logs.
func Plain(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "foundry status  mode=%s  at=%s\n\n", s.Mode, s.TakenAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "%-12s %8s %10s %9s %6s\n", "AGENT", "PENDING", "PROCESSING", "COMPLETED", "FAILED")
	for _, row := range s.Agents {
		fmt.Fprintf(&b, "%-12s %8d %10d %9d %6d\n", row.Agent, row.Pending, row.Processing, row.Completed, row.Failed)
	}
	if len(s.Clusters) > 0 {
		fmt.Fprintf(&b, "\n%-24s %7s %-13s %s\n", "THEME", "ENTRIES", "MATURITY", "FIRST SEEN")
		for _, c := range s.Clusters {
			fmt.Fprintf(&b, "%-24s %7d %-13s %s\n", c.Theme, len(c.EntryIDs), c.Maturity, age(s.TakenAt, c.FirstSeen))
		}
	}
	if len(s.Failed) > 0 {
		b.WriteString("\nFAILED\n")
		for _, task := range s.Failed {
			fmt.Fprintf(&b, "  %s  %s\n", task.ID, oneLine(task.Error, 80))
		}
	}
	if len(s.Journal) > 0 {
		fmt.Fprintf(&b, "\nJOURNAL (last %d of %d)\n", len(s.Journal), s.JournalTotal)
		for _, line := range s.Journal {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "\nerror: %s", e)
	}
	return b.String()
}

func age(now, then time.Time) string {
	if then.IsZero() {
		return "-"
	}
	d := now.Sub(then)
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if limit > 0 && len([]rune(s)) > limit {
		return string([]rune(s)[:limit-1]) + "…"
	}
	return s
}
