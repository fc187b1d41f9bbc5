// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
	DriverFile     = "file"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Store    StoreConfig    `mapstructure:"store"`
	Roster   RosterConfig   `mapstructure:"roster"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// APIKey guards the /v1 routes when set.
	APIKey string `mapstructure:"api_key"`
}

// ScheduleConfig controls admission and the cooperative timers.
type ScheduleConfig struct {
	MinInterval    time.Duration `mapstructure:"min_interval"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PurgeOnStart   bool          `mapstructure:"purge_on_start"`
}

// HarvestConfig controls the per-target agent subprocess.
type HarvestConfig struct {
	AgentCommand    string        `mapstructure:"agent_command"`
	AgentArgs       []string      `mapstructure:"agent_args"`
	TargetTimeout   time.Duration `mapstructure:"target_timeout"`
	KillGrace       time.Duration `mapstructure:"kill_grace"`
	MaxCaptureBytes int           `mapstructure:"max_capture_bytes"`
	Concurrency     int           `mapstructure:"concurrency"`
	TempDir         string        `mapstructure:"temp_dir"`
	PerHostRPS      float64       `mapstructure:"per_host_rps"`
	PerHostBurst    int           `mapstructure:"per_host_burst"`
	// Env holds KEY=VALUE pairs added to the agent's environment.
	Env []string `mapstructure:"env"`
}

// SyncConfig controls the downstream sync subprocess. An empty command disables it.
type SyncConfig struct {
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the run state store and job queue backend.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	BadgerPath      string        `mapstructure:"badger_path"`
	StateTable      string        `mapstructure:"state_table"`
	JobsTable       string        `mapstructure:"jobs_table"`
}

// RosterConfig selects where harvest targets come from.
type RosterConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	Table  string `mapstructure:"table"`
}

// ArchiveConfig selects where failed captures are archived.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds the batch notification topic. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.api_key", "")
	v.SetDefault("schedule.min_interval", "24h")
	v.SetDefault("schedule.check_interval", "1m")
	v.SetDefault("schedule.status_interval", "1h")
	v.SetDefault("schedule.poll_interval", "5s")
	v.SetDefault("schedule.purge_on_start", true)
	v.SetDefault("harvest.agent_command", "")
	v.SetDefault("harvest.agent_args", []string{})
	v.SetDefault("harvest.target_timeout", "30m")
	v.SetDefault("harvest.kill_grace", "10s")
	v.SetDefault("harvest.max_capture_bytes", 64<<10)
	v.SetDefault("harvest.concurrency", 1)
	v.SetDefault("harvest.temp_dir", "")
	v.SetDefault("harvest.env", []string{})
	v.SetDefault("harvest.per_host_rps", 0.0)
	v.SetDefault("harvest.per_host_burst", 1)
	v.SetDefault("sync.command", "")
	v.SetDefault("sync.args", []string{})
	v.SetDefault("sync.timeout", "5m")
	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.max_conn_lifetime", "30m")
	v.SetDefault("store.badger_path", "data/harvester")
	v.SetDefault("store.state_table", "harvest_state")
	v.SetDefault("store.jobs_table", "harvest_jobs")
	v.SetDefault("roster.driver", DriverFile)
	v.SetDefault("roster.path", "roster.yaml")
	v.SetDefault("roster.table", "profiles")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "captures")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"schedule.min_interval":   c.Schedule.MinInterval,
		"schedule.check_interval": c.Schedule.CheckInterval,
		"schedule.poll_interval":  c.Schedule.PollInterval,
		"harvest.target_timeout":  c.Harvest.TargetTimeout,
		"harvest.kill_grace":      c.Harvest.KillGrace,
		"sync.timeout":            c.Sync.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	for _, kv := range c.Harvest.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			return fmt.Errorf("harvest.env entries must be KEY=VALUE; got %q", kv)
		}
	}
	if c.Harvest.PerHostRPS < 0 {
		return fmt.Errorf("harvest.per_host_rps must be >= 0")
	}
	if c.Harvest.MaxCaptureBytes <= 0 {
		return fmt.Errorf("harvest.max_capture_bytes must be > 0")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	case DriverBadger:
		if c.Store.BadgerPath == "" {
			return fmt.Errorf("store.badger_path is required for the badger driver")
		}
	default:
		return fmt.Errorf("store.driver must be one of memory, postgres, badger; got %q", c.Store.Driver)
	}

	switch c.Roster.Driver {
	case DriverFile:
		if c.Roster.Path == "" {
			return fmt.Errorf("roster.path is required for the file driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres roster")
		}
	default:
		return fmt.Errorf("roster.driver must be one of file, postgres; got %q", c.Roster.Driver)
	}

	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local backend")
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend must be one of none, memory, local, gcs; got %q", c.Archive.Backend)
	}

	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// RequireAgent reports an error when no harvesting agent is configured. Commands that
// only inspect state skip this check.
func (c Config) RequireAgent() error {
	if strings.TrimSpace(c.Harvest.AgentCommand) == "" {
		return fmt.Errorf("harvest.agent_command is required")
	}
	return nil
}
