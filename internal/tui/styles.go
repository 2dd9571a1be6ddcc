// Package tui is the live run dashboard: a bubbletea program showing "N of
// M requests across sequence K of S" against a fixed, enumerable work plan.
//
// Adapted from internal/tui/dashboard.go and internal/tui/styles.go:
// PayloadStash has no "requests per second over time" notion (it runs a
// bounded plan to completion, not an open-loop load test), so the
// RPS/throughput sparkline panels are dropped in favor of a determinate
// progress bar. internal/tui/setup.go (interactive target/rate/duration
// wizard) and internal/tui/summary.go (load-test summary screen) are not
// carried — PayloadStash's input is an authored document, not a wizard,
// and the summary screen's job is covered by internal/htmlreport plus the
// results CSV. Libraries: github.com/charmbracelet/bubbletea, bubbles
// (progress bar), lipgloss.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#00FFFF")
	accentColor  = lipgloss.Color("#00FF88")
	subColor     = lipgloss.Color("241")

	successText = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF88"))
	warnText    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))
	errText     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4444"))

	headerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	subtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")).Italic(true)
	dividerStyle  = lipgloss.NewStyle().Foreground(subColor)
	metaStyle     = lipgloss.NewStyle().Foreground(subColor)
)

const asciiLogo = "⚡ PayloadStash"
