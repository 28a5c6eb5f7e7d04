package output

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/sift/pkg/sift/stats"
)

// ANSI 256-color palette shared by the pretty formatter and the TUI.
const (
	ColorPrimary = lipgloss.Color("39")
	ColorSuccess = lipgloss.Color("42")
	ColorWarning = lipgloss.Color("214")
	ColorDanger  = lipgloss.Color("196")
	ColorMuted   = lipgloss.Color("245")
	ColorText    = lipgloss.Color("255")
)

// CategoryColors gives each category a stable color in bars and legends.
var CategoryColors = map[stats.Category]lipgloss.Color{
	stats.Image:    lipgloss.Color("213"),
	stats.Video:    lipgloss.Color("141"),
	stats.Audio:    lipgloss.Color("81"),
	stats.Document: lipgloss.Color("221"),
	stats.Other:    ColorMuted,
}

// Boxes.
var (
	HeaderBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorPrimary).
			Padding(0, 1).
			MarginBottom(1)

	FooterBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1).
			MarginTop(1)
)

// Text styles.
var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	SectionStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorText).MarginTop(1)
	LabelStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	ValueStyle   = lipgloss.NewStyle().Foreground(ColorText)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorDanger)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	PathStyle    = lipgloss.NewStyle().Foreground(ColorText)
	SizeStyle    = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
)

// TableHeaderStyle renders column headers.
var TableHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorMuted).
	PaddingRight(2)

// categoryStyle returns the bar style of a category.
func categoryStyle(c stats.Category) lipgloss.Style {
	color, ok := CategoryColors[c]
	if !ok {
		color = ColorMuted
	}
	return lipgloss.NewStyle().Foreground(color)
}
