// cmd/fleetcfg/styles.go

package main

import (
	"github.com/charmbracelet/lipgloss"

	"fleetcfg/internal/models"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warn      = lipgloss.AdaptiveColor{Light: "#D08700", Dark: "#F5C518"}

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight)

	okStyle = lipgloss.NewStyle().
		Foreground(special).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(warn).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Underline(true)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(subtle).
			Padding(0, 1)
)

// phaseStyle picks a color for a deployment phase.
func phaseStyle(p models.DeploymentPhase) lipgloss.Style {
	switch p {
	case models.PhaseCommitted:
		return okStyle
	case models.PhaseRolledBack, models.PhaseRollingBack, models.PhaseCanceled:
		return warnStyle
	case models.PhaseFailed:
		return errorStyle
	default:
		return dimStyle
	}
}
