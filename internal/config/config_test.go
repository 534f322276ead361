package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: true
database:
  driver: memory
queue:
  batch_size: 50
health:
  batch_size: 10
  domain_interval_ms: 250
  head_deny_list: ["tumblr.com"]
archive:
  access_key: a
  secret_key: s
  freshness_days: 30
snapshot:
  priority_domains: ["homeofpoi.com"]
storage:
  backend: local
  local_dir: /var/lib/linkkeeper
wiki:
  username: LinkKeeperBot
  password: pw
remediate:
  min_failures: 9
server:
  port: 9090
schedule:
  sync: ""
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.True(t, cfg.Logging.Development)
	require.Equal(t, "memory", cfg.Database.Driver)
	require.Equal(t, 50, cfg.Queue.BatchSize)
	require.Equal(t, 250*time.Millisecond, cfg.Health.DomainInterval())
	require.Equal(t, []string{"tumblr.com"}, cfg.Health.HeadDenyList)
	require.Equal(t, 30*24*time.Hour, cfg.Archive.Freshness())
	require.Equal(t, []string{"homeofpoi.com"}, cfg.Snapshot.PriorityDomains)
	require.Equal(t, 9, cfg.Remediate.MinFailures)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Empty(t, cfg.Schedule.Sync)
	require.Equal(t, "0 */4 * * *", cfg.Schedule.Check)

	caps := cfg.Capabilities()
	require.Equal(t, []link.Capability{link.CapabilityArchive, link.CapabilityRemediate, link.CapabilitySnapshot}, caps.List())
	require.Empty(t, cfg.CapabilityHints())
}

func TestLoadDefaultsFromEnvironment(t *testing.T) {
	t.Setenv("LINKKEEPER_DATABASE_DSN", "postgres://localhost/linkkeeper")
	t.Setenv("IA_ACCESS_KEY", "legacy-access")
	t.Setenv("IA_SECRET_KEY", "legacy-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "postgres://localhost/linkkeeper", cfg.Database.DSN)
	require.Equal(t, 200, cfg.Queue.BatchSize)
	require.Equal(t, 100, cfg.Health.BatchSize)
	require.Equal(t, 3, cfg.Health.DeadThreshold)
	require.Equal(t, 50, cfg.Archive.BatchSize)
	require.Equal(t, 5*time.Second, cfg.Archive.SubmitInterval())
	require.Equal(t, 7, cfg.Remediate.MinFailures)
	require.Equal(t, 30*24*time.Hour, cfg.Remediate.MinDeadAge())
	require.Equal(t, "Project:LinkKeeper/Review", cfg.Remediate.ReviewPage)
	require.Equal(t, DefaultPriorityDomains, cfg.Snapshot.PriorityDomains)
	require.Equal(t, "legacy-access", cfg.Archive.AccessKey)

	caps := cfg.Capabilities()
	require.True(t, caps.Has(link.CapabilityArchive))
	require.False(t, caps.Has(link.CapabilitySnapshot))
	hints := cfg.CapabilityHints()
	require.Contains(t, hints, link.CapabilitySnapshot)
	require.Contains(t, hints, link.CapabilityRemediate)
	require.NotContains(t, hints, link.CapabilityArchive)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Database:  DatabaseConfig{Driver: "memory"},
			Server:    ServerConfig{Port: 8080},
			HTTP:      HTTPConfig{TimeoutSeconds: 15},
			Queue:     QueueConfig{BatchSize: 1},
			Health:    HealthConfig{BatchSize: 1, DeadThreshold: 3},
			Archive:   ArchiveConfig{BatchSize: 1},
			Remediate: RemediateConfig{MinFailures: 7},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"postgres without dsn": func(c *Config) { c.Database.Driver = "postgres" },
		"unknown driver":       func(c *Config) { c.Database.Driver = "sqlite" },
		"port":                 func(c *Config) { c.Server.Port = 0 },
		"timeout":              func(c *Config) { c.HTTP.TimeoutSeconds = 0 },
		"batch":                func(c *Config) { c.Queue.BatchSize = 0 },
		"threshold":            func(c *Config) { c.Health.DeadThreshold = 0 },
		"half archive creds":   func(c *Config) { c.Archive.AccessKey = "only" },
		"unknown backend":      func(c *Config) { c.Storage.Backend = "s3" },
		"gcs without bucket":   func(c *Config) { c.Storage.Backend = "gcs" },
		"local without dir":    func(c *Config) { c.Storage.Backend = "local" },
		"min failures":         func(c *Config) { c.Remediate.MinFailures = 2 },
		"negative interval":    func(c *Config) { c.Health.DomainIntervalMs = -1 },
		"sample ratio":         func(c *Config) { c.Tracing.SampleRatio = 1.5 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
