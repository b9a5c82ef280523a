package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
)

func statusBadge(status string) string {
	switch status {
	case StatusCompleted:
		return okStyle.Render(status)
	case StatusAbortedForSafety, PhaseFailed:
		return failStyle.Render(status)
	case PhaseSkipped:
		return skipStyle.Render(status)
	default:
		return status
	}
}

// TerminalSummary renders the human summary the CLI prints after a run.
func TerminalSummary(r *Report, paths []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s  %s\n", titleStyle.Render("pgmedic run "+string(r.RunID)), statusBadge(r.Status))
	fmt.Fprintf(&b, "%s\n", faintStyle.Render(fmt.Sprintf("duration %.1fs", r.FinishedAt.Sub(r.StartedAt).Seconds())))

	b.WriteString(sectionStyle.Render("Phases") + "\n")
	for _, p := range r.Phases {
		line := fmt.Sprintf("  %-20s %s", p.Key, statusBadge(p.Status))
		if p.Warning != "" {
			line += "  " + warnStyle.Render(p.Warning)
		}
		b.WriteString(line + "\n")
	}

	if r.Protection.Enabled {
		b.WriteString(sectionStyle.Render("Protection") + "\n")
		fmt.Fprintf(&b, "  samples %d (skipped %d), peak cpu %.1f%%, peak memory %.1f%%\n",
			r.Protection.SamplesTaken, r.Protection.SamplesSkipped,
			r.Protection.PeakCPUPercent, r.Protection.PeakMemoryPercent)
		for _, v := range r.Violations {
			b.WriteString("  " + failStyle.Render(v.String()) + "\n")
		}
	}

	if r.Collection != nil {
		b.WriteString(sectionStyle.Render("Collection") + "\n")
		line := fmt.Sprintf("  %s (%s", r.Collection.Name, r.Collection.Owner)
		if r.Collection.Reused {
			line += ", reused"
		}
		line += ")"
		if r.Collection.Degraded {
			line += "  " + warnStyle.Render("degraded: "+r.Collection.Reason)
		}
		b.WriteString(line + "\n")
	}

	if len(paths) > 0 {
		b.WriteString(sectionStyle.Render("Reports") + "\n")
		for _, p := range paths {
			b.WriteString("  " + p + "\n")
		}
	}
	return b.String()
}
