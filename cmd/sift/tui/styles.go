// Package tui renders live progress for sift's long running commands.
// It uses Charmbracelet's Bubble Tea, Lip Gloss and Bubbles.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	primaryColor = lipgloss.Color("#7D56F4")
	accentColor  = lipgloss.Color("#00D9FF")
	successColor = lipgloss.Color("#28A745")
	dangerColor  = lipgloss.Color("#DC3545")
	mutedColor   = lipgloss.Color("#666666")
	borderColor  = lipgloss.Color("#333333")
	valueColor   = lipgloss.Color("#FFFFFF")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

var (
	frameStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(primaryColor).Padding(0, 1)
	ruleStyle    = fg(borderColor)
	titleStyle   = fg(primaryColor).Bold(true)
	pathStyle    = fg(accentColor)
	hintStyle    = fg(mutedColor)
	failureStyle = fg(dangerColor)
	doneStyle    = fg(successColor)

	counterBoxStyle   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(borderColor).Padding(0, 2)
	counterLabelStyle = fg(mutedColor)
	counterValueStyle = fg(valueColor).Bold(true)
)

// rule draws a horizontal line width cells wide.
func rule(width int) string {
	return ruleStyle.Render(strings.Repeat("─", max(width, 0)))
}

// truncatePath shortens path to maxLen bytes, keeping its tail.
func truncatePath(path string, maxLen int) string {
	switch {
	case len(path) <= maxLen:
		return path
	case maxLen <= 3:
		return path[:maxLen]
	}
	return "..." + path[len(path)-(maxLen-3):]
}

// center pads s on both sides to width cells.
func center(s string, width int) string {
	return lipgloss.PlaceHorizontal(width, lipgloss.Center, s)
}
