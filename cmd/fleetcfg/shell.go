// cmd/fleetcfg/shell.go

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fleetcfg/internal/terminal"
)

func newShellCmd() *cobra.Command {
	var termType string
	cmd := &cobra.Command{
		Use:   "shell <host-id>",
		Short: "Open an interactive shell on the host",
		Long: "Opens a dedicated interactive session outside the deployment\n" +
			"session pool, so a shell never delays a running deployment.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := theApp.conns.AcquireInteractive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer theApp.conns.Release(sess)

			fmt.Println(dimStyle.Render("connected to " + sess.Host().Addr() + ", exit the shell to detach"))
			return terminal.AttachStdio(sess, termType)
		},
	}
	cmd.Flags().StringVar(&termType, "term", "", "terminal type (defaults to $TERM)")
	return cmd
}
