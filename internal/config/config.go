// Package config loads and validates linkkeeper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/linkkeeper/internal/link"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Health    HealthConfig    `mapstructure:"health"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Wiki      WikiConfig      `mapstructure:"wiki"`
	Remediate RemediateConfig `mapstructure:"remediate"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig tunes span sampling.
type TracingConfig struct {
	// SampleRatio is the fraction of root job runs traced, 0 to 1.
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// DatabaseConfig selects and tunes the link store.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// HTTPConfig configures outbound HTTP clients.
type HTTPConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	TimeoutSeconds        int    `mapstructure:"timeout_seconds"`
	CaptureTimeoutSeconds int    `mapstructure:"capture_timeout_seconds"`
	ArchiveTimeoutSeconds int    `mapstructure:"archive_timeout_seconds"`
}

// QueueConfig tunes the discovery queue drain.
type QueueConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// HealthConfig tunes liveness checks.
type HealthConfig struct {
	BatchSize        int      `mapstructure:"batch_size"`
	DomainIntervalMs int      `mapstructure:"domain_interval_ms"`
	DeadThreshold    int      `mapstructure:"dead_threshold"`
	HeadDenyList     []string `mapstructure:"head_deny_list"`
	Soft404Bytes     int      `mapstructure:"soft404_bytes"`
}

// ArchiveConfig configures public-archive lookups and submissions.
type ArchiveConfig struct {
	BatchSize             int    `mapstructure:"batch_size"`
	FreshnessDays         int    `mapstructure:"freshness_days"`
	SubmitIntervalSeconds int    `mapstructure:"submit_interval_seconds"`
	AccessKey             string `mapstructure:"access_key"`
	SecretKey             string `mapstructure:"secret_key"`
	CDXEndpoint           string `mapstructure:"cdx_endpoint"`
	AvailabilityEndpoint  string `mapstructure:"availability_endpoint"`
	SaveEndpoint          string `mapstructure:"save_endpoint"`
}

// SnapshotConfig configures self-hosted WARC captures.
type SnapshotConfig struct {
	PriorityDomains []string `mapstructure:"priority_domains"`
	TempDir         string   `mapstructure:"temp_dir"`
	MaxBodyMB       int      `mapstructure:"max_body_mb"`
}

// StorageConfig selects the object store for captures.
type StorageConfig struct {
	// Backend is "gcs", "local", or empty for none.
	Backend         string `mapstructure:"backend"`
	GCSBucket       string `mapstructure:"gcs_bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
	LocalDir        string `mapstructure:"local_dir"`
	// LocalChecksums writes a sha256sum sidecar next to each local capture.
	LocalChecksums bool `mapstructure:"local_checksums"`
}

// WikiConfig locates the document system.
type WikiConfig struct {
	APIURL       string `mapstructure:"api_url"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	InternalHost string `mapstructure:"internal_host"`
}

// RemediateConfig gates document rewrites.
type RemediateConfig struct {
	MinFailures int    `mapstructure:"min_failures"`
	MinDeadDays int    `mapstructure:"min_dead_days"`
	ReviewPage  string `mapstructure:"review_page"`
}

// PubSubConfig holds metadata for lifecycle notifications.
type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	DeadTopic       string `mapstructure:"dead_topic"`
	RemediatedTopic string `mapstructure:"remediated_topic"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
}

// ScheduleConfig holds cron expressions for the serve command. An empty
// expression disables the job.
type ScheduleConfig struct {
	Queue     string `mapstructure:"queue"`
	Check     string `mapstructure:"check"`
	Archive   string `mapstructure:"archive"`
	Snapshot  string `mapstructure:"snapshot"`
	Remediate string `mapstructure:"remediate"`
	Sync      string `mapstructure:"sync"`
}

// DefaultPriorityDomains are captured to object storage on every snapshot run.
var DefaultPriorityDomains = []string{
	"drexfactor.com",
	"sirlorq.wordpress.com",
	"spinscience.xyz",
	"noelyee.com",
	"playpoi.com",
	"flowartsinstitute.com",
	"homeofpoi.com",
	"poividoftheday.tumblr.com",
	"wickup.wordpress.com",
	"tabjuggler.tumblr.com",
	"flamebuoyant.com",
}

// legacyEnv maps keys to the bare variable names older deployments export.
var legacyEnv = map[string]string{
	"archive.access_key": "IA_ACCESS_KEY",
	"archive.secret_key": "IA_SECRET_KEY",
	"wiki.api_url":       "WIKI_API",
	"wiki.username":      "WIKI_BOT_USER",
	"wiki.password":      "WIKI_BOT_PASSWORD",
	"database.dsn":       "DATABASE_URL",
}

// Load builds a Config from an optional .env file, disk, and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("LINKKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, name := range legacyEnv {
		envKey := "LINKKEEPER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, name); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.capture_timeout_seconds", 60)
	v.SetDefault("http.archive_timeout_seconds", 30)
	v.SetDefault("queue.batch_size", 200)
	v.SetDefault("health.batch_size", 100)
	v.SetDefault("health.domain_interval_ms", 500)
	v.SetDefault("health.dead_threshold", link.DefaultDeadThreshold)
	v.SetDefault("health.head_deny_list", []string{"tumblr.com", "wordpress.com", "blogspot.com"})
	v.SetDefault("health.soft404_bytes", 1024)
	v.SetDefault("archive.batch_size", 50)
	v.SetDefault("archive.freshness_days", 90)
	v.SetDefault("archive.submit_interval_seconds", 5)
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.cdx_endpoint", "")
	v.SetDefault("archive.availability_endpoint", "")
	v.SetDefault("archive.save_endpoint", "")
	v.SetDefault("snapshot.priority_domains", DefaultPriorityDomains)
	v.SetDefault("snapshot.temp_dir", "/tmp/linkkeeper-warcs")
	v.SetDefault("snapshot.max_body_mb", 50)
	v.SetDefault("storage.backend", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.credentials_file", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.local_checksums", true)
	v.SetDefault("wiki.api_url", "http://mediawiki/api.php")
	v.SetDefault("wiki.username", "")
	v.SetDefault("wiki.password", "")
	v.SetDefault("wiki.internal_host", "flowarts.wiki")
	v.SetDefault("remediate.min_failures", 7)
	v.SetDefault("remediate.min_dead_days", 30)
	v.SetDefault("remediate.review_page", "Project:LinkKeeper/Review")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.dead_topic", "")
	v.SetDefault("pubsub.remediated_topic", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("schedule.queue", "*/5 * * * *")
	v.SetDefault("schedule.check", "0 */4 * * *")
	v.SetDefault("schedule.archive", "0 */6 * * *")
	v.SetDefault("schedule.snapshot", "30 2 * * 0")
	v.SetDefault("schedule.remediate", "0 5 * * 1")
	v.SetDefault("schedule.sync", "0 1 1 * *")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Queue.BatchSize <= 0 || c.Health.BatchSize <= 0 || c.Archive.BatchSize <= 0 {
		return fmt.Errorf("batch sizes must be > 0")
	}
	if c.Health.DeadThreshold <= 0 {
		return fmt.Errorf("health.dead_threshold must be > 0")
	}
	if c.Health.DomainIntervalMs < 0 || c.Archive.SubmitIntervalSeconds < 0 {
		return fmt.Errorf("pacing intervals must not be negative")
	}
	if (c.Archive.AccessKey == "") != (c.Archive.SecretKey == "") {
		return fmt.Errorf("archive.access_key and archive.secret_key must be set together")
	}
	switch c.Storage.Backend {
	case "", "gcs", "local":
	default:
		return fmt.Errorf("storage.backend must be gcs, local, or empty, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir must be set for the local backend")
	}
	if c.Remediate.MinFailures < c.Health.DeadThreshold {
		return fmt.Errorf("remediate.min_failures must be >= health.dead_threshold")
	}
	return nil
}

// Capabilities reports which optional tiers have their credentials configured.
func (c Config) Capabilities() link.Capabilities {
	caps := link.NewCapabilities()
	if c.Archive.AccessKey != "" && c.Archive.SecretKey != "" {
		caps[link.CapabilityArchive] = struct{}{}
	}
	if c.Storage.Backend != "" {
		caps[link.CapabilitySnapshot] = struct{}{}
	}
	if c.Wiki.Username != "" && c.Wiki.Password != "" {
		caps[link.CapabilityRemediate] = struct{}{}
	}
	return caps
}

// CapabilityHints explains how to enable each missing tier.
func (c Config) CapabilityHints() map[link.Capability]string {
	caps := c.Capabilities()
	hints := map[link.Capability]string{}
	if !caps.Has(link.CapabilityArchive) {
		hints[link.CapabilityArchive] = "set archive.access_key and archive.secret_key (IA_ACCESS_KEY, IA_SECRET_KEY)"
	}
	if !caps.Has(link.CapabilitySnapshot) {
		hints[link.CapabilitySnapshot] = "set storage.backend to gcs (with storage.gcs_bucket) or local (with storage.local_dir)"
	}
	if !caps.Has(link.CapabilityRemediate) {
		hints[link.CapabilityRemediate] = "set wiki.username and wiki.password (WIKI_BOT_USER, WIKI_BOT_PASSWORD)"
	}
	return hints
}

// Timeout converts a seconds knob to a duration.
func Timeout(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// Freshness is the age under which a public snapshot makes submission unnecessary.
func (c ArchiveConfig) Freshness() time.Duration {
	return time.Duration(c.FreshnessDays) * 24 * time.Hour
}

// SubmitInterval is the minimum gap between paid submissions.
func (c ArchiveConfig) SubmitInterval() time.Duration {
	return time.Duration(c.SubmitIntervalSeconds) * time.Second
}

// DomainInterval is the minimum gap between probes of one domain.
func (c HealthConfig) DomainInterval() time.Duration {
	return time.Duration(c.DomainIntervalMs) * time.Millisecond
}

// MinDeadAge is how long a link must be dead before its citations are rewritten.
func (c RemediateConfig) MinDeadAge() time.Duration {
	return time.Duration(c.MinDeadDays) * 24 * time.Hour
}
