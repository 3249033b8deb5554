// cmd/fleetcfg/pull.go

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"fleetcfg/internal/models"
	"fleetcfg/internal/syncer"
)

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <host-id>",
		Short: "Fetch the host's managed files into a new current snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := theApp.syncer.Pull(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s snapshot %s (%d files)\n",
				okStyle.Render("✓"), dimStyle.Render(snap.ID), len(snap.Files))
			for _, p := range snap.Paths() {
				f := snap.Files[p]
				fmt.Printf("  %-40s %6d bytes  %s\n", p, len(f.Content), dimStyle.Render(f.Hash[:12]))
			}
			return nil
		},
	}
}

func newDiffCmd() *cobra.Command {
	var fromDir string
	cmd := &cobra.Command{
		Use:   "diff <host-id>",
		Short: "Classify a local change set against the host's current snapshot",
		Long: "Reads the managed files from a local mirror directory (the remote\n" +
			"absolute path appended to --from) and classifies each against the\n" +
			"current snapshot without touching the host.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := theApp.store.GetHost(args[0])
			if err != nil {
				return err
			}
			changeSet, err := loadChangeSet(host, fromDir)
			if err != nil {
				return err
			}
			current, err := theApp.store.CurrentSnapshot(host.ID)
			if err != nil {
				current = nil // no snapshot yet, everything is an addition
			}

			changes := syncer.Diff(current, changeSet)
			for _, c := range changes {
				fmt.Printf("%s  %s\n", changeGlyph(c.Kind), c.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fromDir, "from", "", "local mirror directory holding the new content (required)")
	cmd.MarkFlagRequired("from")
	return cmd
}

// loadChangeSet reads the host's managed files from a local mirror
// directory laid out by remote absolute path. Files missing locally are
// left out of the change set.
func loadChangeSet(host *models.Host, dir string) (map[string][]byte, error) {
	changeSet := make(map[string][]byte)
	for _, remote := range host.Files {
		local := filepath.Join(dir, filepath.FromSlash(remote))
		content, err := os.ReadFile(local)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %v", local, err)
		}
		changeSet[remote] = content
	}
	if len(changeSet) == 0 {
		return nil, fmt.Errorf("no managed files found under %s", dir)
	}
	return changeSet, nil
}

func changeGlyph(kind models.ChangeKind) string {
	switch kind {
	case models.ChangeAdded:
		return okStyle.Render("A")
	case models.ChangeModified:
		return warnStyle.Render("M")
	case models.ChangeRemoved:
		return errorStyle.Render("R")
	default:
		return dimStyle.Render("=")
	}
}
