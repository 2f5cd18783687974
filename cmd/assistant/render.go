package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

var (
	assistantPanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	errorPanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1)
	searchLine = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	noteLine   = lipgloss.NewStyle().Foreground(lipgloss.Color("108"))
	promptText = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true).Render("you › ")
)

// panelWidth is the text width inside a panel for a terminal of width cols.
func panelWidth(cols int) int {
	// Border and padding take two columns on each side.
	w := cols - 4
	if w < 20 {
		w = 20
	}
	if w > 100 {
		w = 100
	}
	return w
}

// wrap word-wraps text to width, keeping paragraph breaks.
func wrap(text string, width int) string {
	return wordwrap.String(strings.TrimSpace(text), width)
}

func renderReply(text string, cols int) string {
	return assistantPanel.Render(wrap(text, panelWidth(cols)))
}

func renderError(text string, cols int) string {
	return errorPanel.Render(wrap(text, panelWidth(cols)))
}

func renderSearch(query string) string {
	return searchLine.Render("🔍 " + query)
}

func renderNote(text string) string {
	return noteLine.Render(text)
}
