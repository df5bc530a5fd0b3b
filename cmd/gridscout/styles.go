package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/entrhq/gridscout/pkg/types"
)

var (
	salmonPink = lipgloss.Color("#FFB3BA")
	mintGreen  = lipgloss.Color("#A8E6CF")
	skyBlue    = lipgloss.Color("#A0C4FF")
	mutedGray  = lipgloss.Color("#6B7280")
)

var (
	headerStyle  = lipgloss.NewStyle().Foreground(salmonPink).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(mintGreen)
	failStyle    = lipgloss.NewStyle().Foreground(salmonPink)
	statusStyle  = lipgloss.NewStyle().Foreground(skyBlue).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedGray)
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(salmonPink).
			Padding(0, 1)
)

func mark(ok bool) string {
	if ok {
		return okStyle.Render("✓")
	}
	return failStyle.Render("✗")
}

// printEvent renders one progress event as a single line.
func printEvent(w io.Writer, e *types.Event) {
	ts := mutedStyle.Render(e.Timestamp.Format("15:04:05"))
	switch e.Type {
	case types.EventTypeStatus, types.EventTypeComplete:
		fmt.Fprintf(w, "%s %s %s\n", ts, statusStyle.Render(e.Status), e.Message)
	case types.EventTypeLog:
		fmt.Fprintf(w, "%s %s\n", ts, mutedStyle.Render(e.Message))
	case types.EventTypeScriptGenerated:
		fmt.Fprintf(w, "%s wrote %s (v%d)\n", ts, e.Path, e.Version)
	case types.EventTypeScriptTested:
		ok := e.Success != nil && *e.Success
		line := fmt.Sprintf("%s %s tested %s", ts, mark(ok), e.Path)
		if ok {
			line += fmt.Sprintf(": %d rows", e.RowCount)
		} else if e.Error != "" {
			line += ": " + firstLine(e.Error)
		}
		fmt.Fprintln(w, line)
	case types.EventTypeParallelStart:
		limit := "unlimited"
		if e.MaxConcurrent != nil && *e.MaxConcurrent > 0 {
			limit = fmt.Sprint(*e.MaxConcurrent)
		}
		fmt.Fprintf(w, "%s running %d scripts (max concurrent: %s)\n", headerStyle.Render("batch"), e.Total, limit)
	case types.EventTypeScriptStart:
		fmt.Fprintf(w, "%s %s %s\n", ts, mutedStyle.Render("▸"), e.Script)
	case types.EventTypeScriptComplete:
		ok := e.Success != nil && *e.Success
		line := fmt.Sprintf("%s %s %s", ts, mark(ok), e.Script)
		if ok {
			line += fmt.Sprintf(": %d rows", e.RowCount)
		} else {
			line += ": " + firstLine(e.Error)
		}
		fmt.Fprintln(w, line)
	case types.EventTypeParallelComplete:
		fmt.Fprintln(w, summaryStyle.Render(fmt.Sprintf(
			"%d scripts  %s  %s  %d rows",
			e.Total,
			okStyle.Render(fmt.Sprintf("%d ok", e.Successful)),
			failStyle.Render(fmt.Sprintf("%d failed", e.Failed)),
			e.TotalRows,
		)))
	case types.EventTypeError:
		fmt.Fprintf(w, "%s %s\n", ts, failStyle.Render("error: "+e.Error))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
