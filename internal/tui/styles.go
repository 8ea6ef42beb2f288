package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleEscalationBorder = lipgloss.NewStyle().
				Border(lipgloss.ThickBorder()).
				BorderForeground(lipgloss.Color("9")).
				Padding(0, 1)
)

// Phase status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	StyleStatusSkipped = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Strikethrough(true)
)

// Diff line styles
var (
	StyleDiffAdd  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	StyleDiffDel  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	StyleDiffHunk = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleError = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	StyleMuted = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)
