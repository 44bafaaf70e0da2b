// internal/tui/app.go
//
// This is the status dashboard for foundry.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: the latest Snapshot plus two tables
// 2. Update: refresh ticks, window sizes and key presses
// 3. View: renders the snapshot to a string
//
// The dashboard only reads. Every refresh takes a fresh Snapshot from disk.

package tui

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const boardRefreshInterval = 2 * time.Second

type focusArea int

const (
	focusAgents focusArea = iota
	focusClusters
)

type snapshotMsg Snapshot

// App is the dashboard model.
type App struct {
	src      Sources
	now      func() time.Time
	snap     Snapshot
	loaded   bool
	agents   table.Model
	clusters table.Model
	focus    focusArea
	width    int
	height   int
}

// AppOption customizes App construction for tests.
type AppOption func(*App)

// WithClock overrides the snapshot timestamp source.
func WithClock(now func() time.Time) AppOption {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// NewApp builds a dashboard over the given sources.
func NewApp(src Sources, opts ...AppOption) *App {
	a := &App{
		src: src,
		now: time.Now,
		agents: newTable([]table.Column{
			{Title: "Agent", Width: 12},
			{Title: "Pending", Width: 8},
			{Title: "Processing", Width: 10},
			{Title: "Completed", Width: 9},
			{Title: "Failed", Width: 6},
		}, snapshotAgents+2),
		clusters: newTable([]table.Column{
			{Title: "Theme", Width: 24},
			{Title: "Entries", Width: 7},
			{Title: "Maturity", Width: 12},
			{Title: "First seen", Width: 10},
		}, 8),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.agents.Focus()
	return a
}

// Run starts the dashboard on the alternate screen and blocks until quit.
func Run(src Sources) error {
	_, err := tea.NewProgram(NewApp(src), tea.WithAltScreen()).Run()
	return err
}

func newTable(cols []table.Column, height int) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithHeight(height),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5B8DEF")).
		Bold(false)
	t.SetStyles(styles)
	return t
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.fetchSnapshot()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case snapshotMsg:
		a.apply(Snapshot(msg))
		return a, a.scheduleRefresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "r":
			return a, a.fetchSnapshot()
		case "tab":
			a.toggleFocus()
			return a, nil
		}
	}

	var cmd tea.Cmd
	if a.focus == focusClusters {
		a.clusters, cmd = a.clusters.Update(msg)
	} else {
		a.agents, cmd = a.agents.Update(msg)
	}
	return a, cmd
}

func (a *App) toggleFocus() {
	if a.focus == focusAgents {
		a.focus = focusClusters
		a.agents.Blur()
		a.clusters.Focus()
		return
	}
	a.focus = focusAgents
	a.clusters.Blur()
	a.agents.Focus()
}

func (a *App) fetchSnapshot() tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(TakeSnapshot(a.src, a.now()))
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	return tea.Tick(boardRefreshInterval, func(time.Time) tea.Msg {
		return snapshotMsg(TakeSnapshot(a.src, a.now()))
	})
}

func (a *App) apply(s Snapshot) {
	a.snap = s
	a.loaded = true

	agentRows := make([]table.Row, 0, len(s.Agents))
	for _, row := range s.Agents {
		agentRows = append(agentRows, table.Row{
			string(row.Agent),
			strconv.Itoa(row.Pending),
			strconv.Itoa(row.Processing),
			strconv.Itoa(row.Completed),
			strconv.Itoa(row.Failed),
		})
	}
	a.agents.SetRows(agentRows)

	clusterRows := make([]table.Row, 0, len(s.Clusters))
	for _, c := range s.Clusters {
		clusterRows = append(clusterRows, table.Row{
			oneLine(c.Theme, 24),
			strconv.Itoa(len(c.EntryIDs)),
			string(c.Maturity),
			age(s.TakenAt, c.FirstSeen),
		})
	}
	a.clusters.SetRows(clusterRows)
}

// View renders the dashboard.
func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		Render("⬡ FOUNDRY")
	if !a.loaded {
		return header + "\n\nLoading..."
	}
	mode := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#F7B801")).
		Render(fmt.Sprintf("mode %s", a.snap.Mode))
	stamp := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#999999")).
		Render(a.snap.TakenAt.Format("15:04:05"))

	sections := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, header, "  ", mode, "  ", stamp),
		"",
		a.panel("AGENTS", a.agents.View(), a.focus == focusAgents),
	}
	if len(a.snap.Clusters) > 0 {
		sections = append(sections, a.panel("CLUSTERS", a.clusters.View(), a.focus == focusClusters))
	}
	if failed := a.renderFailed(); failed != "" {
		sections = append(sections, failed)
	}
	if log := a.renderLogPanel(); log != "" {
		sections = append(sections, log)
	}
	for _, e := range a.snap.Errors {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Render("error: "+e))
	}
	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666666")).
		Render("tab switch table · r refresh · q quit")
	sections = append(sections, help)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (a *App) panel(title, body string, focused bool) string {
	border := lipgloss.Color("#444444")
	if focused {
		border = lipgloss.Color("#5B8DEF")
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(title)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		Render(head + "\n" + body)
}

func (a *App) renderFailed() string {
	if len(a.snap.Failed) == 0 {
		return ""
	}
	label := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	lines := make([]string, 0, len(a.snap.Failed))
	for _, task := range a.snap.Failed {
		lines = append(lines, fmt.Sprintf("%s %s", label.Render(task.ID), oneLine(task.Error, 60)))
	}
	return a.panel("FAILED", strings.Join(lines, "\n"), false)
}

func (a *App) renderLogPanel() string {
	if len(a.snap.Journal) == 0 {
		return ""
	}
	fileName := "journal"
	if a.src.Journal != nil {
		if base := filepath.Base(a.src.Journal.Path()); base != "." && base != "" {
			fileName = base
		}
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s · %d lines", fileName, a.snap.JournalTotal))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(a.snap.Journal, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}
