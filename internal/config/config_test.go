package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 24*time.Hour, cfg.Schedule.MinInterval)
	require.Equal(t, time.Minute, cfg.Schedule.CheckInterval)
	require.Equal(t, 30*time.Minute, cfg.Harvest.TargetTimeout)
	require.Equal(t, 5*time.Minute, cfg.Sync.Timeout)
	require.Equal(t, 1, cfg.Harvest.Concurrency)
	require.Equal(t, DriverMemory, cfg.Store.Driver)
	require.Equal(t, DriverFile, cfg.Roster.Driver)
	require.Equal(t, ArchiveNone, cfg.Archive.Backend)
	require.True(t, cfg.Schedule.PurgeOnStart)
	require.Error(t, cfg.RequireAgent())
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: false
server:
  port: 9090
schedule:
  min_interval: 12h
  check_interval: 30s
harvest:
  agent_command: /usr/local/bin/scrape-profile
  agent_args: ["--headless"]
  target_timeout: 20m
  concurrency: 2
  env: ["NODE_OPTIONS=--max-old-space-size=4096"]
sync:
  command: /usr/local/bin/sync-index
  timeout: 2m
store:
  driver: postgres
  dsn: postgres://harvester@localhost/harvester
roster:
  driver: postgres
archive:
  backend: gcs
  bucket: harvest-captures
pubsub:
  project_id: scholar
  topic_name: harvest-batches
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.False(t, cfg.Logging.Development)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 12*time.Hour, cfg.Schedule.MinInterval)
	require.Equal(t, 30*time.Second, cfg.Schedule.CheckInterval)
	require.Equal(t, "/usr/local/bin/scrape-profile", cfg.Harvest.AgentCommand)
	require.Equal(t, []string{"--headless"}, cfg.Harvest.AgentArgs)
	require.Equal(t, 20*time.Minute, cfg.Harvest.TargetTimeout)
	require.Equal(t, 2, cfg.Harvest.Concurrency)
	require.Equal(t, []string{"NODE_OPTIONS=--max-old-space-size=4096"}, cfg.Harvest.Env)
	require.Equal(t, "/usr/local/bin/sync-index", cfg.Sync.Command)
	require.Equal(t, DriverPostgres, cfg.Store.Driver)
	require.Equal(t, DriverPostgres, cfg.Roster.Driver)
	require.Equal(t, "profiles", cfg.Roster.Table)
	require.Equal(t, "harvest-captures", cfg.Archive.Bucket)
	require.Equal(t, "harvest-batches", cfg.PubSub.TopicName)
	require.NoError(t, cfg.RequireAgent())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_SCHEDULE_MIN_INTERVAL", "90m")
	t.Setenv("HARVESTER_HARVEST_AGENT_COMMAND", "agent")
	t.Setenv("HARVESTER_STORE_DRIVER", "badger")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, cfg.Schedule.MinInterval)
	require.Equal(t, "agent", cfg.Harvest.AgentCommand)
	require.Equal(t, DriverBadger, cfg.Store.Driver)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero interval", func(c *Config) { c.Schedule.MinInterval = 0 }, "schedule.min_interval"},
		{"zero target timeout", func(c *Config) { c.Harvest.TargetTimeout = 0 }, "harvest.target_timeout"},
		{"zero concurrency", func(c *Config) { c.Harvest.Concurrency = 0 }, "harvest.concurrency"},
		{"unknown store", func(c *Config) { c.Store.Driver = "redis" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.dsn"},
		{"postgres roster without dsn", func(c *Config) { c.Roster.Driver = DriverPostgres }, "store.dsn"},
		{"unknown roster", func(c *Config) { c.Roster.Driver = "csv" }, "roster.driver"},
		{"local archive without dir", func(c *Config) { c.Archive.Backend = ArchiveLocal }, "archive.base_dir"},
		{"gcs archive without bucket", func(c *Config) { c.Archive.Backend = ArchiveGCS }, "archive.bucket"},
		{"unknown archive", func(c *Config) { c.Archive.Backend = "s3" }, "archive.backend"},
		{"malformed env", func(c *Config) { c.Harvest.Env = []string{"NOVALUE"} }, "harvest.env"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
