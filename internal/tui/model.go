package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-exec-worker/internal/bench"
	"github.com/randomizedcoder/go-exec-worker/internal/stats"
)

// TickMsg drives periodic display refresh.
type TickMsg time.Time

const tickInterval = 500 * time.Millisecond

// ProgressSource provides bench run counters.
type ProgressSource interface {
	Progress() bench.Progress
}

// StatsSource provides runtime summaries.
type StatsSource interface {
	Snapshot() stats.Summary
}

// Config holds dashboard configuration.
type Config struct {
	TargetJobs int
	Command    string
	WorkerPath string
	Progress   ProgressSource
	Stats      StatsSource

	// Done, when it closes, ends the dashboard after one final refresh.
	Done <-chan struct{}
}

// Model represents the dashboard state.
type Model struct {
	cfg Config

	progress bench.Progress
	summary  stats.Summary

	startTime time.Time
	width     int
	height    int
	quitting  bool
}

// New creates a dashboard model.
func New(cfg Config) Model {
	return Model{
		cfg:       cfg,
		startTime: time.Now(),
		width:     80,
		height:    24,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		m.refresh()
		if m.runFinished() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, tickCmd()
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.cfg.Progress != nil {
		m.progress = m.cfg.Progress.Progress()
	}
	if m.cfg.Stats != nil {
		m.summary = m.cfg.Stats.Snapshot()
	}
}

func (m *Model) runFinished() bool {
	if m.cfg.Done == nil {
		return false
	}
	select {
	case <-m.cfg.Done:
		return true
	default:
		return false
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		// The final summary is printed by the caller after the program
		// exits, so leave the alternate screen clean.
		return ""
	}
	return m.render()
}
