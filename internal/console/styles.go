package console

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Teal     = lipgloss.Color("#0d7377")
	OffWhite = lipgloss.Color("#f8f7f4")
	DarkGray = lipgloss.Color("#333333")
	Amber    = lipgloss.Color("#f2a541")
	Green    = lipgloss.Color("#3fb950")
	Muted    = lipgloss.Color("#8b949e")

	// Styles
	StatusBarStyle = lipgloss.NewStyle().
		Background(Teal).
		Foreground(OffWhite).
		Bold(true).
		Padding(0, 1)

	TranscriptStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Teal).
		Padding(0, 1)

	InputBarStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Teal).
		Padding(0, 1)

	UserMessageStyle = lipgloss.NewStyle().
		Foreground(OffWhite).
		Bold(true)

	AssistantLabelStyle = lipgloss.NewStyle().
		Foreground(Teal).
		Bold(true)

	NoticeStyle = lipgloss.NewStyle().
		Foreground(Muted).
		Italic(true)

	// Wake indicator, one per engine state.
	InactiveStyle  = lipgloss.NewStyle().Foreground(Muted)
	ListeningStyle = lipgloss.NewStyle().Foreground(Green).Bold(true)
	ActiveStyle    = lipgloss.NewStyle().Foreground(Amber).Bold(true)
)
