// cmd/fleetcfg/hosts.go

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fleetcfg/internal/models"
)

func newHostsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Manage the host registry",
	}
	cmd.AddCommand(newHostsAddCmd(), newHostsListCmd(), newHostsRemoveCmd(), newHostsPinCmd())
	return cmd
}

func newHostsAddCmd() *cobra.Command {
	var (
		address   string
		port      int
		user      string
		auth      string
		keyFormat string
		secretRef string
		files     []string
		desc      string
	)
	cmd := &cobra.Command{
		Use:   "add <host-id>",
		Short: "Register a host and its managed file set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := &models.Host{
				ID:          args[0],
				Address:     address,
				Port:        port,
				User:        user,
				AuthMethod:  models.AuthMethod(auth),
				KeyFormat:   models.KeyFormat(keyFormat),
				SecretRef:   secretRef,
				Files:       files,
				Description: desc,
			}
			if h.SecretRef == "" {
				h.SecretRef = h.ID
			}
			if err := theApp.store.AddHost(h); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("✓") + " host " + titleStyle.Render(h.ID) + " registered")
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "host address (required)")
	cmd.Flags().IntVar(&port, "port", 22, "SSH port")
	cmd.Flags().StringVar(&user, "user", "", "SSH user (required)")
	cmd.Flags().StringVar(&auth, "auth", "password", "auth method: password or key")
	cmd.Flags().StringVar(&keyFormat, "key-format", "", "stored key format: openssh or ppk")
	cmd.Flags().StringVar(&secretRef, "secret-ref", "", "vault reference (defaults to the host id)")
	cmd.Flags().StringSliceVar(&files, "file", nil, "managed remote file, absolute path (repeatable, required)")
	cmd.Flags().StringVar(&desc, "description", "", "free-form description")
	cmd.MarkFlagRequired("address")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newHostsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts := theApp.store.ListHosts()
			if len(hosts) == 0 {
				fmt.Println(dimStyle.Render("no hosts registered"))
				return nil
			}
			fmt.Println(headerStyle.Render(fmt.Sprintf("%-24s %-28s %-10s %s", "ID", "ADDRESS", "AUTH", "FILES")))
			for _, h := range hosts {
				fmt.Printf("%-24s %-28s %-10s %s\n",
					h.ID, h.Addr(), h.AuthMethod, strings.Join(h.Files, ", "))
			}
			return nil
		},
	}
}

func newHostsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <host-id>",
		Short: "Remove a host from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := theApp.store.RemoveHost(args[0]); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("✓") + " host " + args[0] + " removed")
			return nil
		},
	}
}

func newHostsPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <host-id>",
		Short: "Fetch and pin the host's SSH key into known_hosts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := theApp.conns.PinHostKey(args[0]); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("✓") + " host key pinned for " + args[0])
			return nil
		},
	}
}
