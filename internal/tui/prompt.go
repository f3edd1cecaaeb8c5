package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/waabox/bgrelease/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// ParseAnswer maps a free-text answer to a decision. An empty answer takes def.
func ParseAnswer(answer string, def domain.Decision) (domain.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "":
		return def, def != ""
	case "y", "yes", "proceed":
		return domain.Proceed, true
	case "n", "no", "abort":
		return domain.Abort, true
	default:
		return "", false
	}
}

// PromptModel asks one question and quits once it has a decision.
type PromptModel struct {
	prompt   domain.Prompt
	input    textinput.Model
	decision domain.Decision
	invalid  string
}

// NewPromptModel creates a focused prompt.
func NewPromptModel(p domain.Prompt) PromptModel {
	in := textinput.New()
	in.Prompt = "> "
	in.CharLimit = 16
	switch p.Default {
	case domain.Proceed:
		in.Placeholder = "Y/n"
	case domain.Abort:
		in.Placeholder = "y/N"
	default:
		in.Placeholder = "y/n"
	}
	in.Focus()
	return PromptModel{prompt: p, input: in}
}

func (m PromptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m PromptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			d, ok := ParseAnswer(m.input.Value(), m.prompt.Default)
			if !ok {
				m.invalid = fmt.Sprintf("%q is not an answer, type yes or no", m.input.Value())
				m.input.Reset()
				return m, nil
			}
			m.decision = d
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.decision = domain.Abort
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Decision returns the answer once the operator has given one.
func (m PromptModel) Decision() (domain.Decision, bool) {
	return m.decision, m.decision != ""
}

func (m PromptModel) View() string {
	if m.decision != "" {
		return fmt.Sprintf("%s %s\n", titleStyle.Render(m.prompt.Title), m.decision)
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.prompt.Title) + "\n")
	if m.prompt.Message != "" {
		sb.WriteString(m.prompt.Message + "\n")
	}
	if m.invalid != "" {
		sb.WriteString(failStyle.Render(m.invalid) + "\n")
	}
	sb.WriteString(m.input.View() + "\n")
	sb.WriteString(hintStyle.Render("enter to answer, esc to abort") + "\n")
	return sb.String()
}

// PromptGate is an ApprovalGate backed by an operator at a terminal.
type PromptGate struct {
	mu  sync.Mutex
	in  io.Reader
	out io.Writer
}

var _ domain.ApprovalGate = (*PromptGate)(nil)

// NewPromptGate creates a gate reading answers from in and drawing on out.
func NewPromptGate(in io.Reader, out io.Writer) *PromptGate {
	return &PromptGate{in: in, out: out}
}

// RequestDecision runs one prompt program. Prompts never overlap.
func (g *PromptGate) RequestDecision(ctx context.Context, p domain.Prompt) (domain.Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	prog := tea.NewProgram(NewPromptModel(p), tea.WithContext(ctx), tea.WithInput(g.in), tea.WithOutput(g.out))
	final, err := prog.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, tea.ErrProgramKilled) {
			return "", fmt.Errorf("prompt %q interrupted: %w", p.Title, domain.ErrAborted)
		}
		return "", fmt.Errorf("running prompt %q: %w", p.Title, err)
	}
	d, ok := final.(PromptModel).Decision()
	if !ok {
		return "", fmt.Errorf("prompt %q closed without an answer: %w", p.Title, domain.ErrAborted)
	}
	return d, nil
}
