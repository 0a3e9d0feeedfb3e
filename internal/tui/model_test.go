package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-exec-worker/internal/bench"
	"github.com/randomizedcoder/go-exec-worker/internal/stats"
)

type fakeProgress struct{ p bench.Progress }

func (f fakeProgress) Progress() bench.Progress { return f.p }

type fakeStats struct{ s stats.Summary }

func (f fakeStats) Snapshot() stats.Summary { return f.s }

func testModel() Model {
	return New(Config{
		TargetJobs: 10,
		Command:    "/bin/true",
		Progress: fakeProgress{p: bench.Progress{
			Submitted: 5, Responses: 3, Succeeded: 2, TimedOut: 1, WorkerPID: 4242,
		}},
		Stats: fakeStats{s: stats.Summary{
			Completed: 3, Succeeded: 2, TimedOut: 1,
			RuntimeP50: 0.05, RuntimeP95: 0.2, RuntimeP99: 0.4,
			RuntimeMin: 0.01, RuntimeMax: 0.5,
			Elapsed:    2 * time.Second,
		}},
	})
}

func TestModelQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c", "esc"} {
		t.Run(key, func(t *testing.T) {
			m := testModel()
			var msg tea.KeyMsg
			switch key {
			case "ctrl+c":
				msg = tea.KeyMsg{Type: tea.KeyCtrlC}
			case "esc":
				msg = tea.KeyMsg{Type: tea.KeyEsc}
			default:
				msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
			}

			updated, cmd := m.Update(msg)
			if cmd == nil {
				t.Fatal("quit key produced no command")
			}
			if !updated.(Model).quitting {
				t.Error("model not quitting after quit key")
			}
		})
	}
}

func TestTickRefreshesFromSources(t *testing.T) {
	m := testModel()

	updated, cmd := m.Update(TickMsg(time.Now()))
	um := updated.(Model)

	if um.progress.Submitted != 5 || um.progress.WorkerPID != 4242 {
		t.Errorf("progress not refreshed: %+v", um.progress)
	}
	if um.summary.Completed != 3 {
		t.Errorf("summary not refreshed: %+v", um.summary)
	}
	if cmd == nil {
		t.Error("tick did not schedule the next tick")
	}
}

func TestViewContainsCounters(t *testing.T) {
	m := testModel()
	updated, _ := m.Update(TickMsg(time.Now()))
	view := updated.(Model).View()

	for _, want := range []string{"5/10", "go-exec-worker bench", "timeout"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestRenderSummary(t *testing.T) {
	p := bench.Progress{Submitted: 10, Responses: 10, Succeeded: 9, TimedOut: 1}
	s := stats.Summary{
		Completed: 10, Succeeded: 9, TimedOut: 1,
		RuntimeP50: 0.1, RuntimeP95: 0.9, RuntimeP99: 1.5,
		RuntimeMin: 0.01, RuntimeMax: 2.0,
		Elapsed:    5 * time.Second, CompletionRate: 2,
	}

	out := RenderSummary(p, s)
	for _, want := range []string{"bench summary", "10", "runtime p95", "jobs/s"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.000001, "1µs"},
		{0.0005, "500µs"},
		{0.25, "250ms"},
		{1.5, "1.50s"},
	}
	for _, tt := range tests {
		if got := formatSeconds(tt.in); got != tt.want {
			t.Errorf("formatSeconds(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
