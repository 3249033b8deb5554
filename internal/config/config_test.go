package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, "state"), cfg.StateDir)
	require.Equal(t, filepath.Join(dir, "vault"), cfg.VaultDir)
	require.Equal(t, filepath.Join(dir, "known_hosts"), cfg.KnownHostsPath)
	require.False(t, cfg.AcceptUnknownHosts)
	require.Equal(t, 10*time.Second, cfg.DialTimeout)
	require.Equal(t, 2, cfg.RollbackRetries)
	require.Equal(t, 10, cfg.Retention.ScheduledMaxCount)
	require.Equal(t, 30*24*time.Hour, cfg.Retention.ManualMaxAge)

	// The state directory was created, private to the user.
	info, err := os.Stat(cfg.StateDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
state_dir: ` + filepath.Join(dir, "custom-state") + `
dial_timeout: 3s
rollback_retries: 5
retention:
  scheduled_max_count: 3
log_level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "custom-state"), cfg.StateDir)
	require.Equal(t, 3*time.Second, cfg.DialTimeout)
	require.Equal(t, 5, cfg.RollbackRetries)
	require.Equal(t, 3, cfg.Retention.ScheduledMaxCount)
	// Keys absent from the file keep their defaults.
	require.Equal(t, 30*24*time.Hour, cfg.Retention.ManualMaxAge)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state_dir: [unclosed\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestOptionMappings(t *testing.T) {
	cfg := &Config{
		DialTimeout:     4 * time.Second,
		IdleThreshold:   time.Minute,
		KnownHostsPath:  "/tmp/kh",
		PhaseTimeout:    30 * time.Second,
		RollbackRetries: 1,
		Retention: RetentionConfig{
			ScheduledMaxCount: 7,
			ManualMaxAge:      time.Hour,
		},
	}

	co := cfg.ConnOptions()
	require.Equal(t, 4*time.Second, co.DialTimeout)
	require.Equal(t, "/tmp/kh", co.KnownHostsPath)

	do := cfg.DeployOptions()
	require.Equal(t, 30*time.Second, do.PhaseTimeout)
	require.Equal(t, 1, do.RollbackRetries)

	pol := cfg.RetentionPolicies()
	require.Equal(t, 7, pol.Scheduled.MaxCount)
	require.Equal(t, time.Hour, pol.Manual.MaxAge)
}
