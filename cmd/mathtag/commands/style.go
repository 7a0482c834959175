package commands

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/tyxk8160/mathtag"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Bold(true)
)

// printSummary writes a styled one-line summary of a rewrite result
func printSummary(w io.Writer, title string, result mathtag.Result, extra ...string) {
	line := titleStyle.Render(title)
	pairs := []struct {
		label string
		value int
	}{
		{"text nodes", result.TextNodes},
		{"rewritten", result.Rewritten},
		{"inline", result.InlineSpans},
		{"block", result.BlockSpans},
	}
	for _, p := range pairs {
		line += fmt.Sprintf("  %s %s", labelStyle.Render(p.label), valueStyle.Render(fmt.Sprint(p.value)))
	}
	for _, e := range extra {
		line += "  " + labelStyle.Render(e)
	}
	fmt.Fprintln(w, line)
}
