package handlers

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"podpipe/internal/core"

	"github.com/charmbracelet/lipgloss"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func printHeading(title string) {
	fmt.Println(headingStyle.Render(title))
	fmt.Println(mutedStyle.Render(strings.Repeat("━", 44)))
}

func statusStyle(s core.Status) lipgloss.Style {
	switch s {
	case core.StatusProcessed:
		return okStyle
	case core.StatusFailed:
		return errStyle
	case core.StatusTranscribed:
		return warnStyle
	default:
		return mutedStyle
	}
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
