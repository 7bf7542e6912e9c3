package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/governedworks/wbs/internal/types"
)

// Palette shared by all renderers.
var (
	ColorAccent = lipgloss.Color("12") // bright blue
	ColorPass   = lipgloss.Color("10") // bright green
	ColorWarn   = lipgloss.Color("11") // bright yellow
	ColorFail   = lipgloss.Color("9")  // bright red
	ColorMuted  = lipgloss.Color("8")  // grey
)

// Table styles.
var (
	TableHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Align(lipgloss.Center)

	TableHintStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)

	TableBorderStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)
)

// statusStyles maps packet statuses to their render styles.
var statusStyles = map[types.Status]lipgloss.Style{
	types.StatusPending:    lipgloss.NewStyle().Foreground(ColorMuted),
	types.StatusInProgress: lipgloss.NewStyle().Foreground(ColorAccent).Bold(true),
	types.StatusDone:       lipgloss.NewStyle().Foreground(ColorPass),
	types.StatusFailed:     lipgloss.NewStyle().Foreground(ColorFail).Bold(true),
	types.StatusBlocked:    lipgloss.NewStyle().Foreground(ColorWarn),
}

// Init pins the lipgloss color profile from the environment. Called once at
// CLI startup so piped output stays plain.
func Init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// RenderStatus styles a packet status for terminal output.
func RenderStatus(status types.Status) string {
	if style, ok := statusStyles[status]; ok {
		return style.Render(string(status))
	}
	return string(status)
}

// RenderPass styles a success marker.
func RenderPass(s string) string {
	return lipgloss.NewStyle().Foreground(ColorPass).Render(s)
}

// RenderWarn styles a warning line.
func RenderWarn(s string) string {
	return lipgloss.NewStyle().Foreground(ColorWarn).Render(s)
}

// RenderFail styles a failure line.
func RenderFail(s string) string {
	return lipgloss.NewStyle().Foreground(ColorFail).Bold(true).Render(s)
}
