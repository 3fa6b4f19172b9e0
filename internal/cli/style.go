package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"chai/internal/domain"
)

var (
	colorAccent  = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6C7086")
	colorSuccess = lipgloss.Color("#A6E3A1")
	colorWarning = lipgloss.Color("#F9E2AF")
	colorError   = lipgloss.Color("#F38BA8")
)

type styles struct {
	Title   lipgloss.Style
	Name    lipgloss.Style
	Muted   lipgloss.Style
	InStock lipgloss.Style
	SoldOut lipgloss.Style
	Warning lipgloss.Style
	Tag     lipgloss.Style
	Card    lipgloss.Style
}

func newStyles() styles {
	return styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Name:    lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
		InStock: lipgloss.NewStyle().Foreground(colorSuccess),
		SoldOut: lipgloss.NewStyle().Foreground(colorError),
		Warning: lipgloss.NewStyle().Foreground(colorWarning),
		Tag:     lipgloss.NewStyle().Foreground(colorAccent).Italic(true),
		Card:    lipgloss.NewStyle().PaddingLeft(2).MarginBottom(1),
	}
}

// renderResult prints a search result for a terminal.
func renderResult(w io.Writer, res *domain.SearchResult) {
	s := newStyles()

	if res.Answer != "" {
		fmt.Fprintln(w, s.Title.Render(res.Answer))
		fmt.Fprintln(w)
	}
	if len(res.Recommendations) == 0 {
		fmt.Fprintln(w, s.Muted.Render("No teas matched this request."))
		return
	}

	for _, rec := range res.Recommendations {
		var b strings.Builder
		b.WriteString(s.Name.Render(fmt.Sprintf("%d. %s", rec.Rank, rec.Tea.Name)))
		if rec.Tea.Price != "" {
			b.WriteString(s.Muted.Render("  " + rec.Tea.Price + " ₽"))
		}
		b.WriteString("\n")
		if rec.Description != "" {
			b.WriteString(rec.Description + "\n")
		}
		if len(rec.Tags) > 0 {
			b.WriteString(s.Tag.Render("#"+strings.Join(rec.Tags, " #")) + "\n")
		}
		b.WriteString(stockLine(s, rec) + "\n")
		b.WriteString(s.Muted.Render(rec.Tea.URL))
		fmt.Fprintln(w, s.Card.Render(b.String()))
	}

	if res.Shortfall {
		fmt.Fprintln(w, s.Warning.Render(fmt.Sprintf("Only %d of %d requested teas matched.",
			len(res.Recommendations), res.Intent.RequestedCount)))
	}
}

func stockLine(s styles, rec domain.Recommendation) string {
	line := s.SoldOut.Render("out of stock")
	if rec.Tea.InStock {
		line = s.InStock.Render("in stock")
	}
	if rec.Tea.SampleURL != "" {
		sample := "sample sold out"
		if rec.SampleInStock {
			sample = "sample available"
		}
		line += s.Muted.Render(" · " + sample)
	}
	return line
}

// formatError renders a command failure, naming the failed stage and the
// kind of failure when known.
func formatError(err error) string {
	kind := domain.Classify(err)
	if _, ok := domain.FailedStage(err); ok {
		return fmt.Sprintf("Error [%s]: %v", kind, err)
	}
	return fmt.Sprintf("Error: %v", err)
}
