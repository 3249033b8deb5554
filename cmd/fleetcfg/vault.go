// cmd/fleetcfg/vault.go

package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage stored credentials",
	}
	cmd.AddCommand(newVaultSetPasswordCmd(), newVaultSetKeyCmd(), newVaultRemoveCmd())
	return cmd
}

func newVaultSetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-password <secret-ref>",
		Short: "Store a password, prompted without echo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Password: ")
			pass, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read password: %v", err)
			}
			if err := theApp.vault.PutPassword(args[0], string(pass)); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("✓") + " password stored under " + args[0])
			return nil
		},
	}
}

func newVaultSetKeyCmd() *cobra.Command {
	var (
		keyFile    string
		passphrase string
	)
	cmd := &cobra.Command{
		Use:   "set-key <secret-ref>",
		Short: "Store a private key (OpenSSH PEM or PuTTY .ppk)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			material, err := os.ReadFile(keyFile)
			if err != nil {
				return fmt.Errorf("failed to read key file: %v", err)
			}
			if err := theApp.vault.PutKey(args[0], material, passphrase); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("✓") + " key stored under " + args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "path to the private key file (required)")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "key passphrase, when the PEM is encrypted")
	cmd.MarkFlagRequired("key-file")
	return cmd
}

func newVaultRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <secret-ref>",
		Short: "Delete a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := theApp.vault.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println(okStyle.Render("✓") + " credential " + args[0] + " removed")
			return nil
		},
	}
}
