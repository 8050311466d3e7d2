package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "linksentry-bot/0.1", cfg.Crawl.UserAgent)
	require.Equal(t, 3, cfg.Queue.MaxAttempts)
	require.Equal(t, 60, cfg.Scheduler.CooldownSecs)
	require.True(t, cfg.Logging.Development)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
server:
  port: 9090
crawl:
  max_pages: 25
queue:
  workers: 4
  lease_seconds: 120
scheduler:
  cooldown_seconds: 15
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 25, cfg.Crawl.MaxPages)
	require.Equal(t, 4, cfg.Queue.Workers)
	require.Equal(t, 120, cfg.Queue.LeaseSeconds)
	require.Equal(t, 15, cfg.Scheduler.CooldownSecs)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LINKSENTRY_SERVER_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero fetch timeout", func(c *Config) { c.Crawl.FetchTimeoutSeconds = 0 }},
		{"zero max pages", func(c *Config) { c.Crawl.MaxPages = 0 }},
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }},
		{"zero lease", func(c *Config) { c.Queue.LeaseSeconds = 0 }},
		{"zero attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }},
		{"zero tick", func(c *Config) { c.Scheduler.TickIntervalSecs = 0 }},
		{"negative cooldown", func(c *Config) { c.Scheduler.CooldownSecs = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
