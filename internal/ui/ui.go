// Package ui renders styled terminal output for the catalogsync CLI.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "2", Dark: "2"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "1", Dark: "1"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "3", Dark: "3"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "4", Dark: "4"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "8", Dark: "8"}

	StylePass   = lipgloss.NewStyle().Foreground(ColorPass).Bold(true)
	StyleFail   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	StyleWarn   = lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)
	StyleAccent = lipgloss.NewStyle().Foreground(ColorAccent)
	StyleMuted  = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleHeader = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true).Padding(0, 1)
	StyleCell   = lipgloss.NewStyle().Padding(0, 1)
)

// DisableColor switches all rendering to plain text.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// RenderPass renders text in the success style.
func RenderPass(s string) string {
	return StylePass.Render(s)
}

// RenderFail renders text in the failure style.
func RenderFail(s string) string {
	return StyleFail.Render(s)
}

// RenderWarn renders text in the warning style.
func RenderWarn(s string) string {
	return StyleWarn.Render(s)
}

// RenderAccent renders text in the accent style.
func RenderAccent(s string) string {
	return StyleAccent.Render(s)
}

// RenderMuted renders secondary text.
func RenderMuted(s string) string {
	return StyleMuted.Render(s)
}

// Table renders rows under headers with a rounded border.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(StyleMuted).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return StyleHeader
			}
			return StyleCell
		})
	return t.Render()
}
