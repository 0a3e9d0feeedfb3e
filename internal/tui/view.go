package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-exec-worker/internal/bench"
	"github.com/randomizedcoder/go-exec-worker/internal/stats"
)

func (m Model) render() string {
	var b strings.Builder

	elapsed := time.Since(m.startTime).Round(time.Second)
	b.WriteString(titleStyle.Render("go-exec-worker bench"))
	b.WriteString("  ")
	b.WriteString(labelStyle.Render(fmt.Sprintf("worker pid %d · %s · %s",
		m.progress.WorkerPID, elapsed, m.cfg.Command)))
	b.WriteString("\n\n")

	b.WriteString(m.renderProgress())
	b.WriteString("\n")
	b.WriteString(m.renderOutcomes())
	b.WriteString("\n")
	b.WriteString(m.renderRuntimes())
	b.WriteString("\n\n")
	b.WriteString(footerStyle.Render("q to quit"))
	b.WriteString("\n")

	return b.String()
}

func (m Model) renderProgress() string {
	p := m.progress
	line := lipgloss.JoinHorizontal(lipgloss.Top,
		kv("submitted", fmt.Sprintf("%d/%d", p.Submitted, m.cfg.TargetJobs)), "   ",
		kv("responses", fmt.Sprintf("%d", p.Responses)), "   ",
		kv("in flight", fmt.Sprintf("%d", p.Outstanding())), "   ",
		kv("rate", fmt.Sprintf("%.1f/s", m.summary.InstantRate)),
	)
	return sectionStyle.Width(m.width - 2).Render(line)
}

func (m Model) renderOutcomes() string {
	p := m.progress
	line := lipgloss.JoinHorizontal(lipgloss.Top,
		outcome("ok", p.Succeeded, successStyle), "   ",
		outcome("timeout", p.TimedOut, warningStyle), "   ",
		outcome("failed", p.Failed, errorStyle), "   ",
		outcome("spawn errors", p.ErrorMsgs, errorStyle), "   ",
		outcome("worker logs", p.LogLines, labelStyle),
	)
	return sectionStyle.Width(m.width - 2).Render(line)
}

func (m Model) renderRuntimes() string {
	s := m.summary
	if s.Completed == 0 {
		return sectionStyle.Width(m.width - 2).Render(labelStyle.Render("runtimes: waiting for responses"))
	}
	line := lipgloss.JoinHorizontal(lipgloss.Top,
		kv("p50", formatSeconds(s.RuntimeP50)), "   ",
		kv("p95", formatSeconds(s.RuntimeP95)), "   ",
		kv("p99", formatSeconds(s.RuntimeP99)), "   ",
		kv("min", formatSeconds(s.RuntimeMin)), "   ",
		kv("max", formatSeconds(s.RuntimeMax)),
	)
	return sectionStyle.Width(m.width - 2).Render(line)
}

// RenderSummary produces the end-of-run report, also used by the
// non-TUI path.
func RenderSummary(p bench.Progress, s stats.Summary) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("bench summary"))
	b.WriteString("\n")

	rows := [][2]string{
		{"jobs submitted", fmt.Sprintf("%d", p.Submitted)},
		{"responses", fmt.Sprintf("%d", p.Responses)},
		{"succeeded", fmt.Sprintf("%d", p.Succeeded)},
		{"timed out", fmt.Sprintf("%d", p.TimedOut)},
		{"failed", fmt.Sprintf("%d", p.Failed)},
		{"spawn errors", fmt.Sprintf("%d", p.ErrorMsgs)},
		{"worker log lines", fmt.Sprintf("%d", p.LogLines)},
		{"elapsed", s.Elapsed.Round(time.Millisecond).String()},
		{"completion rate", fmt.Sprintf("%.1f jobs/s", s.CompletionRate)},
	}
	if s.Completed > 0 {
		rows = append(rows,
			[2]string{"runtime p50", formatSeconds(s.RuntimeP50)},
			[2]string{"runtime p95", formatSeconds(s.RuntimeP95)},
			[2]string{"runtime p99", formatSeconds(s.RuntimeP99)},
			[2]string{"runtime min/max", formatSeconds(s.RuntimeMin) + " / " + formatSeconds(s.RuntimeMax)},
		)
	}

	for _, row := range rows {
		b.WriteString(fmt.Sprintf("  %s %s\n",
			labelStyle.Render(fmt.Sprintf("%-18s", row[0])),
			valueStyle.Render(row[1])))
	}

	return b.String()
}

func formatSeconds(s float64) string {
	switch {
	case s < 0.001:
		return fmt.Sprintf("%.0fµs", s*1e6)
	case s < 1:
		return fmt.Sprintf("%.0fms", s*1e3)
	default:
		return fmt.Sprintf("%.2fs", s)
	}
}
