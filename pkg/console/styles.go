package console

import "github.com/charmbracelet/lipgloss"

// Warm-toned palette shared across the console output
var (
	colorOrange = lipgloss.Color("#eb8755")
	colorYellow = lipgloss.Color("#f5b761")
	colorGreen  = lipgloss.Color("#93b56b")
	colorRed    = lipgloss.Color("#d95f5f")
	colorCyan   = lipgloss.Color("#61afaf")
	colorMuted  = lipgloss.Color("#5c5044")
)

// Styles holds the lipgloss styles for console rendering
type Styles struct {
	Prompt   lipgloss.Style
	Persona  lipgloss.Style
	Banner   lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Muted    lipgloss.Style
	Insight  lipgloss.Style
	Usage    lipgloss.Style
	ListItem lipgloss.Style
}

// DefaultStyles returns the default console styles
func DefaultStyles() Styles {
	return Styles{
		Prompt:   lipgloss.NewStyle().Foreground(colorOrange).Bold(true),
		Persona:  lipgloss.NewStyle().Foreground(colorCyan).Bold(true),
		Banner:   lipgloss.NewStyle().Foreground(colorGreen),
		Warning:  lipgloss.NewStyle().Foreground(colorYellow),
		Error:    lipgloss.NewStyle().Foreground(colorRed),
		Muted:    lipgloss.NewStyle().Foreground(colorMuted),
		Insight:  lipgloss.NewStyle().Foreground(colorYellow).Bold(true),
		Usage:    lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		ListItem: lipgloss.NewStyle().PaddingLeft(2),
	}
}
