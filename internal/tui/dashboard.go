package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Progress is sent into the running program (via Program.Send) after every
// request outcome, carrying enough state to redraw the dashboard.
type Progress struct {
	StashName      string
	SequenceIndex  int
	SequenceCount  int
	SequenceName   string
	Completed      int
	Total          int
	Success        int
	Failed         int
	LastRequestKey string
	LastStatus     int
}

// Done is sent once the run finishes, with the final exit code.
type Done struct {
	ExitCode int
}

// Model is the bubbletea model driving the dashboard.
type Model struct {
	progress progress.Model
	state    Progress
	finished bool
	exitCode int
	history  []string
}

// NewModel builds the initial dashboard model for a run against total
// requests across sequenceCount sequences.
func NewModel(stashName string, total, sequenceCount int) Model {
	p := progress.New(progress.WithScaledGradient("#00FFFF", "#00FF88"), progress.WithoutPercentage())
	return Model{
		progress: p,
		state:    Progress{StashName: stashName, Total: total, SequenceCount: sequenceCount},
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case Progress:
		if msg.StashName == "" {
			msg.StashName = m.state.StashName
		}
		m.state = msg
		line := fmt.Sprintf("  %s %s status=%d", successOrFail(msg.LastStatus), msg.LastRequestKey, msg.LastStatus)
		m.history = append(m.history, line)
		if len(m.history) > 8 {
			m.history = m.history[len(m.history)-8:]
		}
		return m, nil
	case Done:
		m.finished = true
		m.exitCode = msg.ExitCode
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	}
	return m, nil
}

func successOrFail(status int) string {
	if status == 200 {
		return successText.Render("✓")
	}
	return errText.Render("✗")
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Render(asciiLogo)))
	b.WriteString("\n")
	b.WriteString(subtitleStyle.Render("  " + m.state.StashName))
	b.WriteString("\n\n")

	pct := 0.0
	if m.state.Total > 0 {
		pct = float64(m.state.Completed) / float64(m.state.Total)
	}
	b.WriteString(m.progress.ViewAs(pct))
	b.WriteString("\n")
	b.WriteString(metaStyle.Render(fmt.Sprintf("sequence %d of %d (%s) — %d/%d requests",
		m.state.SequenceIndex, m.state.SequenceCount, m.state.SequenceName, m.state.Completed, m.state.Total)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s    %s %s\n",
		metaStyle.Render("success:"), successText.Render(fmt.Sprintf("%d", m.state.Success)),
		metaStyle.Render("failed:"), errText.Render(fmt.Sprintf("%d", m.state.Failed))))

	b.WriteString("\n")
	b.WriteString(dividerStyle.Render(strings.Repeat("─", 50)))
	b.WriteString("\n")
	for _, line := range m.history {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.finished {
		b.WriteString("\n")
		b.WriteString(warnText.Render(fmt.Sprintf("run finished, exit code %d", m.exitCode)))
		b.WriteString("\n")
	}

	return b.String()
}
