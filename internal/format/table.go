package format

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"calbot/internal/models"
)

const (
	// NoEvents is rendered instead of an empty table.
	NoEvents = "No upcoming events found."

	// StartLayout is the layout of the Start column.
	StartLayout = "2006-01-02 15:04:05"

	// MessageLimit is the Discord message content limit.
	MessageLimit = 2000

	// MaxSummaryRunes caps one Event cell, so a single row always fits a message.
	MaxSummaryRunes = 100

	fence = "```"
)

// Render formats events as an aligned Start/Event table that fits a code-block message.
func Render(events []*models.Event) string {
	return RenderLimit(events, MessageLimit-2*len(fence)-2)
}

// RenderLimit renders at most limit bytes, dropping trailing rows and noting how many were left out.
// When not even one row fits, only the note is returned.
func RenderLimit(events []*models.Event, limit int) string {
	if len(events) == 0 {
		return NoEvents
	}

	out := table(events)
	for n := len(events) - 1; len(out) > limit && n >= 0; n-- {
		more := fmt.Sprintf("… and %d more", len(events)-n)
		if n == 0 {
			return more
		}
		out = table(events[:n]) + more
	}
	return out
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// CodeBlock wraps text in a Discord code block.
func CodeBlock(text string) string {
	return fence + "\n" + strings.TrimRight(text, "\n") + "\n" + fence
}

func table(events []*models.Event) string {
	summaries := make([]string, len(events))
	width := len("Event")
	for i, e := range events {
		summaries[i] = clean(e.Summary)
		if e.AllDay {
			summaries[i] += " (all day)"
		}
		summaries[i] = Truncate(summaries[i], MaxSummaryRunes)
		if w := utf8.RuneCountInString(summaries[i]); w > width {
			width = w
		}
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Start\tEvent")
	fmt.Fprintf(w, "%s\t%s\n", strings.Repeat("-", len(StartLayout)), strings.Repeat("-", width))
	for i, e := range events {
		fmt.Fprintf(w, "%s\t%s\n", e.StartTime.Format(StartLayout), summaries[i])
	}
	_ = w.Flush()
	return b.String()
}

// clean keeps a summary on one line and unable to close the surrounding code block.
func clean(s string) string {
	s = strings.NewReplacer("`", "'", "\t", " ", "\r", " ", "\n", " ").Replace(s)
	if s = strings.TrimSpace(s); s == "" {
		return "(no title)"
	}
	return s
}
