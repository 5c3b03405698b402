package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444466")).
		Padding(0, 2)

	title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00ffff"))

	subtle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688"))

	label = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888899"))

	value = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#00ccff")).
		Bold(true)

	statusOK = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ff88"))

	statusWarn = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffaa00"))

	statusFail = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff4444"))
)

// field prints an aligned "label  value" line.
func field(w io.Writer, name string, v any) {
	fmt.Fprintf(w, "%s %s\n", label.Render(fmt.Sprintf("%-12s", name)), value.Render(fmt.Sprint(v)))
}

func separator(width int) string {
	mid := width / 2
	return subtle.Render(strings.Repeat("─", mid-3) + " ◆ " + strings.Repeat("─", width-mid-3))
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "submitted":
		return statusOK
	case "partial", "dry-run":
		return statusWarn
	}
	return statusFail
}
