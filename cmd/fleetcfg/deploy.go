// cmd/fleetcfg/deploy.go

package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"fleetcfg/internal/models"
)

func newDeployCmd() *cobra.Command {
	var (
		fromDir string
		watch   bool
		nowait  bool
	)
	cmd := &cobra.Command{
		Use:   "deploy <host-id>",
		Short: "Deploy a local change set to a host, with rollback on failure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := theApp.store.GetHost(args[0])
			if err != nil {
				return err
			}
			changeSet, err := loadChangeSet(host, fromDir)
			if err != nil {
				return err
			}

			id, err := theApp.deploys.Request(cmd.Context(), host.ID, changeSet, models.TriggerManual)
			if err != nil {
				return err
			}
			fmt.Println("deployment " + dimStyle.Render(id) + " requested")

			if nowait {
				return nil
			}
			if watch {
				if err := runWatch(id); err != nil {
					return err
				}
			}
			d, err := theApp.deploys.Wait(id)
			if err != nil {
				return err
			}
			printDeployment(d)
			if d.Phase != models.PhaseCommitted {
				return fmt.Errorf("deployment finished in phase %s", d.Phase)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fromDir, "from", "", "local mirror directory holding the new content (required)")
	cmd.Flags().BoolVar(&watch, "watch", false, "show live phase progress")
	cmd.Flags().BoolVar(&nowait, "no-wait", false, "return immediately after requesting")
	cmd.MarkFlagRequired("from")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var hostID string
	cmd := &cobra.Command{
		Use:   "status [deployment-id]",
		Short: "Show one deployment, or the deployment log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				d, err := theApp.deploys.Status(args[0])
				if err != nil {
					return err
				}
				printDeployment(d)
				return nil
			}

			deployments := theApp.deploys.List(hostID)
			if len(deployments) == 0 {
				fmt.Println(dimStyle.Render("no deployments"))
				return nil
			}
			fmt.Println(headerStyle.Render(fmt.Sprintf("%-36s %-24s %-12s %s", "ID", "HOST", "PHASE", "REQUESTED")))
			for _, d := range deployments {
				fmt.Printf("%-36s %-24s %-12s %s\n",
					d.ID, d.HostID, phaseStyle(d.Phase).Render(string(d.Phase)),
					d.PhaseTimes[models.PhaseRequested].Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&hostID, "host", "", "limit the log to one host")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <deployment-id>",
		Short: "Cancel a deployment that has not touched the host yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := theApp.deploys.Cancel(args[0]); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("✓") + " cancellation requested")
			return nil
		},
	}
}

func printDeployment(d *models.Deployment) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("deployment"), d.ID)
	fmt.Fprintf(&b, "host:    %s\n", d.HostID)
	fmt.Fprintf(&b, "phase:   %s\n", phaseStyle(d.Phase).Render(string(d.Phase)))
	if d.FailureReason != "" {
		fmt.Fprintf(&b, "reason:  %s\n", errorStyle.Render(d.FailureReason))
	}
	if len(d.AppliedPaths) > 0 {
		fmt.Fprintf(&b, "applied: %s\n", strings.Join(d.AppliedPaths, ", "))
	}
	if len(d.PartialPaths) > 0 {
		fmt.Fprintf(&b, "%s %s\n", warnStyle.Render("needs attention:"), strings.Join(d.PartialPaths, ", "))
	}
	if d.BackupID != "" {
		fmt.Fprintf(&b, "backup:  %s\n", dimStyle.Render(d.BackupID))
	}
	fmt.Println(boxStyle.Render(strings.TrimRight(b.String(), "\n")))
}

// runWatch shows the live phase progression until the deployment is
// terminal.
func runWatch(id string) error {
	p := tea.NewProgram(newWatchModel(id))
	_, err := p.Run()
	return err
}
