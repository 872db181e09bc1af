package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/hamed0406/urlmonitor/internal/domain"
)

var (
	green  = lipgloss.Color("#10B981")
	red    = lipgloss.Color("#EF4444")
	yellow = lipgloss.Color("#F59E0B")
	dim    = lipgloss.Color("#6B7280")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimText     = lipgloss.NewStyle().Foreground(dim)
	okText      = lipgloss.NewStyle().Foreground(green).Bold(true)
	badText     = lipgloss.NewStyle().Foreground(red).Bold(true)
	warnText    = lipgloss.NewStyle().Foreground(yellow)
)

// outcomeLabel renders an outcome with a coloured dot; nil means never checked.
func outcomeLabel(r *domain.CheckResult) string {
	if r == nil {
		return dimText.Render("● never checked")
	}
	switch r.Outcome {
	case domain.OutcomeUp:
		return okText.Render("● up")
	case domain.OutcomeDown:
		return badText.Render("● down")
	default:
		return warnText.Render("● error")
	}
}

func detail(r *domain.CheckResult) string {
	if r == nil {
		return ""
	}
	switch {
	case r.Error != nil:
		return *r.Error
	case r.StatusCode != nil && r.LatencyMS != nil:
		return fmt.Sprintf("HTTP %d in %.0fms", *r.StatusCode, *r.LatencyMS)
	case r.StatusCode != nil:
		return fmt.Sprintf("HTTP %d", *r.StatusCode)
	}
	return ""
}
