package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	root        lipgloss.Style
	header      lipgloss.Style
	tabActive   lipgloss.Style
	tabInactive lipgloss.Style
	panel       lipgloss.Style
	inputPanel  lipgloss.Style
	footer      lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	warning     lipgloss.Style
	helpText    lipgloss.Style
	you         lipgloss.Style
	assistant   lipgloss.Style
}

func newTheme() theme {
	var (
		text   = lipgloss.Color("#e6e6e6")
		muted  = lipgloss.Color("#8a8fa3")
		accent = lipgloss.Color("#7aa2f7")
		mint   = lipgloss.Color("#05ffa1")
		amber  = lipgloss.Color("#ffd166")
		red    = lipgloss.Color("#ff5c7a")
	)
	return theme{
		root: lipgloss.NewStyle().Padding(0, 1),
		header: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(muted),
		tabActive: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1a1b26")).
			Background(accent).
			Bold(true).
			Padding(0, 1),
		tabInactive: lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1),
		footer:      lipgloss.NewStyle().Foreground(text),
		status:      lipgloss.NewStyle().Foreground(mint),
		errorStatus: lipgloss.NewStyle().Foreground(red).Bold(true),
		warning:     lipgloss.NewStyle().Foreground(amber).Bold(true),
		helpText:    lipgloss.NewStyle().Foreground(muted),
		you:         lipgloss.NewStyle().Foreground(mint).Bold(true),
		assistant:   lipgloss.NewStyle().Foreground(accent).Bold(true),
	}
}
