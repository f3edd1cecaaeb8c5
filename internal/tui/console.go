package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/release"
)

var (
	bannerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1).Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("12"))
	boxStyle    = lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.NormalBorder())
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// Summary is what the console prints at the end of a run.
type Summary struct {
	Phases        []domain.PhaseRecord
	State         release.ReleaseState
	ActiveAddress string
	Err           error
}

// Console prints operator-facing progress lines. It is safe for concurrent use.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

// Banner prints a framed title.
func (c *Console) Banner(title, subtitle string) {
	text := title
	if subtitle != "" {
		text += "\n" + mutedStyle.Render(subtitle)
	}
	c.println(bannerStyle.Render(text))
}

func (c *Console) PhaseStarted(p domain.Phase) {
	c.println(runningStyle.Render("●") + " " + string(p) + "...")
}

func (c *Console) PhaseFinished(r domain.PhaseRecord) {
	line := fmt.Sprintf("%s %s (%s)", statusIcon(r.Status), r.Phase, formatDuration(r.Duration))
	if r.Detail != "" {
		line += ": " + r.Detail
	}
	c.println(line)
}

func (c *Console) Notef(format string, args ...any) {
	c.println("  " + fmt.Sprintf(format, args...))
}

func (c *Console) Warnf(format string, args ...any) {
	c.println(warnStyle.Render("! " + fmt.Sprintf(format, args...)))
}

// Summary prints the phase table and the release outcome.
func (c *Console) Summary(s Summary) {
	var sb strings.Builder
	sb.WriteString(NewPhaseListModel(s.Phases).View())
	sb.WriteString("\n")
	sb.WriteString(describeRelease(s.State, s.ActiveAddress))
	if s.Err != nil {
		sb.WriteString("\n" + failStyle.Render("run failed: "+s.Err.Error()))
	} else {
		sb.WriteString("\n" + okStyle.Render("run succeeded"))
	}
	c.println(boxStyle.Render(sb.String()))
}

func describeRelease(st release.ReleaseState, active string) string {
	var lines []string
	switch st.Stage {
	case release.StageUninitialized, "":
		lines = append(lines, "No release was deployed.")
	case release.StageGreenDeployed:
		lines = append(lines, fmt.Sprintf("Green %q (build #%s) is active, replacing blue %q.", st.GreenVersionLabel, st.GreenBuild, st.BlueVersionLabel))
	default:
		lines = append(lines, fmt.Sprintf("Blue %q (build #%s) remains the active deployment.", st.BlueVersionLabel, st.BlueBuild))
		if st.Stage == release.StageGreenPending {
			lines = append(lines, fmt.Sprintf("Green %q was authored but not deployed.", st.GreenVersionLabel))
		}
	}
	if active != "" {
		lines = append(lines, "Active service: "+active)
	}
	return strings.Join(lines, "\n")
}
