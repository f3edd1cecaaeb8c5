package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/waabox/bgrelease/internal/domain"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// PhaseListModel is an immutable model for the phases panel.
type PhaseListModel struct {
	phases []domain.PhaseRecord
}

// NewPhaseListModel creates a phase list model.
func NewPhaseListModel(phases []domain.PhaseRecord) PhaseListModel {
	return PhaseListModel{phases: phases}
}

// View renders one line per phase: status icon, name, duration and detail.
func (m PhaseListModel) View() string {
	if len(m.phases) == 0 {
		return "No phases run."
	}
	var sb strings.Builder
	for _, p := range m.phases {
		line := fmt.Sprintf("%s %-14s %6s", statusIcon(p.Status), p.Phase, formatDuration(p.Duration))
		if p.Detail != "" {
			line += "  " + mutedStyle.Render(truncate(p.Detail, 60))
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func statusIcon(s domain.PhaseStatus) string {
	switch s {
	case domain.PhaseSucceeded:
		return okStyle.Render("✓")
	case domain.PhaseFailed:
		return failStyle.Render("✗")
	case domain.PhaseRunning:
		return runningStyle.Render("●")
	case domain.PhaseSkipped:
		return mutedStyle.Render("↷")
	case domain.PhasePending:
		return mutedStyle.Render("○")
	default:
		return "?"
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "--"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	default:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
