// Package config loads and validates bulletin service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvDevelopment relaxes the secret check and exposes error detail.
const EnvDevelopment = "development"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Source      SourceConfig    `mapstructure:"source"`
	Pipeline    PipelineConfig  `mapstructure:"pipeline"`
	AI          AIConfig        `mapstructure:"ai"`
	Storage     StorageConfig   `mapstructure:"storage"`
	Publisher   PublisherConfig `mapstructure:"publisher"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig holds the shared secret expected in X-Secret-Key.
type AuthConfig struct {
	SecretKey string `mapstructure:"secret_key"`
}

// SourceConfig describes where bulletin text comes from.
type SourceConfig struct {
	TargetURL                 string `mapstructure:"target_url"`
	Kind                      string `mapstructure:"kind"`
	Selector                  string `mapstructure:"selector"`
	UseParent                 bool   `mapstructure:"use_parent"`
	UserAgent                 string `mapstructure:"user_agent"`
	RespectRobots             bool   `mapstructure:"respect_robots"`
	TimeoutSeconds            int    `mapstructure:"timeout_seconds"`
	HeadlessMaxParallel       int    `mapstructure:"headless_max_parallel"`
	HeadlessNavTimeoutSeconds int    `mapstructure:"headless_nav_timeout_seconds"`
}

// PipelineConfig selects the extractor and fingerprint mode.
type PipelineConfig struct {
	Extractor      string `mapstructure:"extractor"`
	Fingerprint    string `mapstructure:"fingerprint"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
}

// AIConfig configures the Gemini extractor.
type AIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// StorageConfig selects and configures the fingerprint cache backend.
type StorageConfig struct {
	Provider      string `mapstructure:"provider"`
	LocalDir      string `mapstructure:"local_dir"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	Prefix        string `mapstructure:"prefix"`
}

// PublisherConfig holds metadata for new-record notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// envAliases maps config keys to the bare environment variable names
// accepted alongside the BULLETINS_ prefixed ones.
var envAliases = map[string][]string{
	"environment":        {"NODE_ENV", "APP_ENV"},
	"server.port":        {"PORT"},
	"auth.secret_key":    {"SECRET_KEY"},
	"source.target_url":  {"TARGET_URL"},
	"ai.api_key":         {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"storage.gcs_bucket": {"GCS_BUCKET"},
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BULLETINS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{key}, "BULLETINS_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
		names = append(names, aliases...)
		if err := v.BindEnv(names...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

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
	if !v.IsSet("logging.development") {
		cfg.Logging.Development = cfg.IsDevelopment()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("source.kind", "html")
	v.SetDefault("source.selector", "#progress-navigation--sidebar--content > div > div:nth-child(1)")
	v.SetDefault("source.use_parent", false)
	v.SetDefault("source.user_agent", "transit-bulletin-crawler/0.1")
	v.SetDefault("source.respect_robots", false)
	v.SetDefault("source.timeout_seconds", 15)
	v.SetDefault("source.headless_max_parallel", 1)
	v.SetDefault("source.headless_nav_timeout_seconds", 25)
	v.SetDefault("pipeline.extractor", "parser")
	v.SetDefault("pipeline.fingerprint", "record")
	v.SetDefault("pipeline.max_concurrency", 0)
	v.SetDefault("ai.model", "gemini-2.5-flash")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.local_dir", "data/cache")
	v.SetDefault("storage.sqlite_path", "data/bulletins.db")
	v.SetDefault("storage.postgres_table", "bulletin_cache")
	v.SetDefault("storage.prefix", "bulletins")
	v.SetDefault("publisher.provider", "none")
	v.SetDefault("publisher.topic", "bulletins")
}

// Validate enforces required values and reasonable limits. The target URL,
// shared secret, and AI key are checked per request instead.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if err := oneOf("source.kind", c.Source.Kind, "html", "headless", "feed"); err != nil {
		return err
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Source.Kind == "headless" && c.Source.HeadlessMaxParallel <= 0 {
		return fmt.Errorf("source.headless_max_parallel must be > 0 when source.kind is headless")
	}
	if err := oneOf("pipeline.extractor", c.Pipeline.Extractor, "parser", "ai"); err != nil {
		return err
	}
	if err := oneOf("pipeline.fingerprint", c.Pipeline.Fingerprint, "record", "text"); err != nil {
		return err
	}
	if c.Pipeline.MaxConcurrency < 0 {
		return fmt.Errorf("pipeline.max_concurrency must be >= 0")
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := oneOf("publisher.provider", c.Publisher.Provider, "none", "memory", "pubsub"); err != nil {
		return err
	}
	if c.Publisher.Provider == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.Topic == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic are required for pubsub")
	}
	return nil
}

func (c Config) validateStorage() error {
	s := c.Storage
	if err := oneOf("storage.provider", s.Provider, "memory", "local", "sqlite", "postgres", "gcs"); err != nil {
		return err
	}
	switch {
	case s.Provider == "local" && s.LocalDir == "":
		return fmt.Errorf("storage.local_dir is required for local storage")
	case s.Provider == "sqlite" && s.SQLitePath == "":
		return fmt.Errorf("storage.sqlite_path is required for sqlite storage")
	case s.Provider == "postgres" && s.PostgresDSN == "":
		return fmt.Errorf("storage.postgres_dsn is required for postgres storage")
	case s.Provider == "gcs" && s.GCSBucket == "":
		return fmt.Errorf("storage.gcs_bucket is required for gcs storage")
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

// IsDevelopment reports whether the service runs in development mode.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvDevelopment)
}

// RequestTimeout returns the HTTP request budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// SourceTimeout returns the per-fetch timeout.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// HeadlessNavTimeout returns the headless navigation budget.
func (c Config) HeadlessNavTimeout() time.Duration {
	return time.Duration(c.Source.HeadlessNavTimeoutSeconds) * time.Second
}
