// cmd/fleetcfg/backups.go

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fleetcfg/internal/models"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage retained configuration backups",
	}
	cmd.AddCommand(newBackupNowCmd(), newBackupListCmd(), newBackupSweepCmd())
	return cmd
}

func newBackupNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "now <host-id>",
		Short: "Take a manual backup of the host's managed files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := theApp.backups.SnapshotNow(cmd.Context(), args[0], models.RetentionManual)
			if err != nil {
				return err
			}
			fmt.Printf("%s backup %s (snapshot %s)\n",
				okStyle.Render("✓"), rec.ID, dimStyle.Render(rec.SnapshotID))
			return nil
		},
	}
}

func newBackupListCmd() *cobra.Command {
	var hostID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List retained backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records := theApp.backups.List(hostID)
			if len(records) == 0 {
				fmt.Println(dimStyle.Render("no backups"))
				return nil
			}
			fmt.Println(headerStyle.Render(fmt.Sprintf("%-36s %-24s %-10s %s", "ID", "HOST", "CLASS", "CREATED")))
			for _, r := range records {
				fmt.Printf("%-36s %-24s %-10s %s\n",
					r.ID, r.HostID, r.Class, r.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&hostID, "host", "", "limit to one host")
	return cmd
}

func newBackupSweepCmd() *cobra.Command {
	var hostID string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Prune backups that fall outside the retention policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pruned, err := theApp.backups.Sweep(hostID)
			if err != nil {
				return err
			}
			fmt.Printf("%s %d backup(s) pruned\n", okStyle.Render("✓"), pruned)
			return nil
		},
	}
	cmd.Flags().StringVar(&hostID, "host", "", "limit to one host")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "restore <host-id> <backup-id>",
		Short: "Deploy the content of a retained backup back to the host",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := theApp.deploys.RestoreFrom(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println("restore deployment " + dimStyle.Render(id) + " requested")
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
				return fmt.Errorf("restore finished in phase %s", d.Phase)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "show live phase progress")
	return cmd
}
