// internal/config/config.go
//
// Application configuration: a YAML file under ~/.config/fleetcfg,
// overridable per key through FLEETCFG_* environment variables.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fleetcfg/internal/backup"
	"fleetcfg/internal/conn"
	"fleetcfg/internal/deploy"
	"fleetcfg/internal/models"
)

const (
	DefaultConfigDir      = ".config/fleetcfg"
	DefaultConfigFileName = "config.yaml"
	DefaultFilePerms      = 0600
)

// Config is the loaded application configuration.
type Config struct {
	// StateDir holds the persistent state: hosts, snapshots,
	// deployments, backup records.
	StateDir string `mapstructure:"state_dir"`
	// VaultDir holds the encrypted credential vault.
	VaultDir string `mapstructure:"vault_dir"`
	// KnownHostsPath is the pinned host key file.
	KnownHostsPath string `mapstructure:"known_hosts_path"`
	// AcceptUnknownHosts skips host key verification. Leave off outside
	// of lab setups.
	AcceptUnknownHosts bool `mapstructure:"accept_unknown_hosts"`

	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	IdleThreshold time.Duration `mapstructure:"idle_threshold"`
	PhaseTimeout  time.Duration `mapstructure:"phase_timeout"`

	RollbackRetries int `mapstructure:"rollback_retries"`

	Retention RetentionConfig `mapstructure:"retention"`

	LogLevel string `mapstructure:"log_level"`
}

// RetentionConfig maps onto the backup retention policies.
type RetentionConfig struct {
	ScheduledMaxCount int           `mapstructure:"scheduled_max_count"`
	ManualMaxAge      time.Duration `mapstructure:"manual_max_age"`
}

// DefaultConfigPath returns the default config file location under the
// user's home directory.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %v", err)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFileName), nil
}

// Load reads the configuration from path, or from the default location
// when path is empty. A missing file yields the defaults; environment
// variables with the FLEETCFG_ prefix override file values.
func Load(path string) (*Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FLEETCFG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir := filepath.Dir(path)
	v.SetDefault("state_dir", filepath.Join(baseDir, "state"))
	v.SetDefault("vault_dir", filepath.Join(baseDir, "vault"))
	v.SetDefault("known_hosts_path", filepath.Join(baseDir, "known_hosts"))
	v.SetDefault("accept_unknown_hosts", false)
	v.SetDefault("dial_timeout", 10*time.Second)
	v.SetDefault("idle_threshold", 2*time.Minute)
	v.SetDefault("phase_timeout", 2*time.Minute)
	v.SetDefault("rollback_retries", 2)
	v.SetDefault("retention.scheduled_max_count", 10)
	v.SetDefault("retention.manual_max_age", 30*24*time.Hour)
	v.SetDefault("log_level", "info")

	// A missing config file is fine, the defaults apply.
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %v", err)
	}
	return &cfg, nil
}

// ConnOptions maps the configuration onto the connection manager.
func (c *Config) ConnOptions() conn.Options {
	return conn.Options{
		DialTimeout:    c.DialTimeout,
		IdleThreshold:  c.IdleThreshold,
		KnownHostsPath: c.KnownHostsPath,
		AcceptUnknown:  c.AcceptUnknownHosts,
	}
}

// DeployOptions maps the configuration onto the deployment service.
func (c *Config) DeployOptions() deploy.Options {
	return deploy.Options{
		RollbackRetries: c.RollbackRetries,
		PhaseTimeout:    c.PhaseTimeout,
	}
}

// RetentionPolicies maps the configuration onto the backup manager.
func (c *Config) RetentionPolicies() backup.Policies {
	return backup.Policies{
		Manual:    models.RetentionPolicy{MaxAge: c.Retention.ManualMaxAge},
		Scheduled: models.RetentionPolicy{MaxCount: c.Retention.ScheduledMaxCount},
	}
}
