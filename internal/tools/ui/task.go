package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

type frameMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type taskModel struct {
	title   string
	frame   int
	started time.Time
	done    bool
	details []string
	err     error
	run     func() tea.Msg
	cancel  context.CancelFunc
}

func frame() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(time.Time) tea.Msg { return frameMsg{} })
}

func (m taskModel) Init() tea.Cmd { return tea.Batch(m.run, frame()) }

func (m taskModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
		}
		return m, nil
	case frameMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, frame()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m taskModel) View() string {
	var b strings.Builder
	if !m.done {
		fmt.Fprintf(&b, "%s %s %s\n", spinnerFrames[m.frame], titleStyle.Render(m.title), dimStyle.Render(time.Since(m.started).Truncate(time.Second).String()))
	} else if m.err != nil {
		fmt.Fprintf(&b, "%s %s\n", errStyle.Render("FAIL"), titleStyle.Render(m.title))
	} else {
		fmt.Fprintf(&b, "%s %s\n", okStyle.Render("OK"), titleStyle.Render(m.title))
	}
	for _, d := range m.details {
		fmt.Fprintf(&b, "  %s\n", dimStyle.Render(d))
	}
	if m.err != nil {
		fmt.Fprintf(&b, "  %s\n", errStyle.Render(m.err.Error()))
	}
	return b.String()
}

// Run shows a spinner while fn runs and prints its details when it returns.
// Pressing q cancels fn's context.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := taskModel{
		title:   title,
		started: time.Now(),
		cancel:  cancel,
		run: func() tea.Msg {
			details, err := fn(ctx)
			return doneMsg{details: details, err: err}
		},
	}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, err
	}
	out := final.(taskModel)
	return out.details, out.err
}
