// cmd/fleetcfg/watch.go
//
// Live deployment view: polls the deployment record and renders the
// phase progression until it is terminal.

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"fleetcfg/internal/models"
)

type tickMsg time.Time

type watchModel struct {
	id      string
	d       *models.Deployment
	err     error
	spinner spinner.Model
}

func newWatchModel(id string) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(highlight)
	return watchModel{id: id, spinner: sp}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, pollCmd())
}

func pollCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case tickMsg:
		d, err := theApp.deploys.Status(m.id)
		if err != nil {
			m.err = err
			return m, tea.Quit
		}
		m.d = d
		if d.Phase.Terminal() {
			return m, tea.Quit
		}
		return m, pollCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

var watchOrder = []models.DeploymentPhase{
	models.PhaseRequested,
	models.PhaseValidating,
	models.PhaseBackingUp,
	models.PhaseApplying,
	models.PhaseVerifying,
}

func (m watchModel) View() string {
	if m.err != nil {
		return errorStyle.Render("watch error: ") + m.err.Error() + "\n"
	}
	if m.d == nil {
		return m.spinner.View() + " loading…\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", titleStyle.Render("deployment"), m.d.ID)

	for _, phase := range watchOrder {
		when, reached := m.d.PhaseTimes[phase]
		switch {
		case phase == m.d.Phase:
			fmt.Fprintf(&b, " %s %s\n", m.spinner.View(), string(phase))
		case reached:
			fmt.Fprintf(&b, " %s %s %s\n", okStyle.Render("✓"), string(phase),
				dimStyle.Render(when.Format("15:04:05")))
		default:
			fmt.Fprintf(&b, "   %s\n", dimStyle.Render(string(phase)))
		}
	}

	// Terminal and exceptional phases appended in the order they were
	// reached.
	extra := make([]models.DeploymentPhase, 0, 2)
	for phase := range m.d.PhaseTimes {
		if phase == models.PhaseRollingBack || phase.Terminal() {
			extra = append(extra, phase)
		}
	}
	sort.Slice(extra, func(i, j int) bool {
		return m.d.PhaseTimes[extra[i]].Before(m.d.PhaseTimes[extra[j]])
	})
	for _, phase := range extra {
		fmt.Fprintf(&b, " %s %s\n", phaseStyle(phase).Render("●"), phaseStyle(phase).Render(string(phase)))
	}

	if m.d.FailureReason != "" {
		fmt.Fprintf(&b, "\n%s %s\n", errorStyle.Render("reason:"), m.d.FailureReason)
	}
	fmt.Fprint(&b, dimStyle.Render("\nq to detach\n"))
	return boxStyle.Render(b.String())
}
