// cmd/fleetcfg/main.go
//
// fleetcfg manages the configuration files of a fleet of remote
// machines over SSH: pull, diff, deploy with rollback, retained
// backups and an interactive shell.

package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"fleetcfg/internal/backup"
	"fleetcfg/internal/config"
	"fleetcfg/internal/conn"
	"fleetcfg/internal/deploy"
	"fleetcfg/internal/store"
	"fleetcfg/internal/syncer"
	"fleetcfg/internal/vault"
)

// app wires the service graph once per invocation.
type app struct {
	cfg     *config.Config
	store   *store.Store
	vault   *vault.FileVault
	conns   *conn.Manager
	syncer  *syncer.Engine
	backups *backup.Manager
	deploys *deploy.Service
}

var (
	configPath string
	theApp     *app
)

func main() {
	root := &cobra.Command{
		Use:           "fleetcfg",
		Short:         "Configuration management for a fleet of SSH-reachable machines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			theApp = a
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/fleetcfg/config.yaml)")

	root.AddCommand(
		newHostsCmd(),
		newVaultCmd(),
		newPullCmd(),
		newDiffCmd(),
		newDeployCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newBackupCmd(),
		newRestoreCmd(),
		newShellCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	st, err := store.Open(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	cipher := vault.NewCipher(vaultPassphrase())
	fv, err := vault.OpenFileVault(cfg.VaultDir, cipher)
	if err != nil {
		return nil, err
	}

	conns := conn.NewManager(st, fv, cfg.ConnOptions())
	sy := syncer.NewEngine(conns, st)
	backups := backup.NewManager(st, sy, cfg.RetentionPolicies())
	deploys := deploy.NewService(st, deploy.NewConnSessions(conns), backups, sy, cfg.DeployOptions())

	return &app{
		cfg:     cfg,
		store:   st,
		vault:   fv,
		conns:   conns,
		syncer:  sy,
		backups: backups,
		deploys: deploys,
	}, nil
}

// vaultPassphrase takes the vault passphrase from the environment, or
// prompts for it on a terminal. The passphrase never appears in argv.
func vaultPassphrase() string {
	if p := os.Getenv("FLEETCFG_VAULT_PASSPHRASE"); p != "" {
		return p
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return ""
	}
	fmt.Fprint(os.Stderr, "Vault passphrase: ")
	pass, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(pass)
}
