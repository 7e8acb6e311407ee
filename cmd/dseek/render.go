package main

import (
	"fmt"
	"io"
	"os"

	"github.com/AvengeMedia/dankseek/internal/model"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	pathStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("111"))
	scoreStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func useColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printResults writes one "path | rank: score" line per result.
func printResults(w io.Writer, results []model.Result, total int, color bool) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no documents in index")
		return
	}

	for _, r := range results {
		path, sep, score := r.Path, " | ", fmt.Sprintf("rank: %g", r.Score)
		if color {
			path, sep, score = pathStyle.Render(path), dimStyle.Render(sep), scoreStyle.Render(score)
		}
		fmt.Fprintf(w, "%s%s%s\n", path, sep, score)
	}

	if total > len(results) {
		footer := fmt.Sprintf("(showing %d of %d documents)", len(results), total)
		if color {
			footer = dimStyle.Render(footer)
		}
		fmt.Fprintln(w, footer)
	}
}
