// Package config loads bgp-shortlived settings from defaults, a YAML file,
// BGP_SHORTLIVED_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"

	"github.com/hervehildenbrand/bgp-shortlived/pkg/broker"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/codec"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/detector"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/ingest"
	"github.com/hervehildenbrand/bgp-shortlived/pkg/reputation"
)

// EnvPrefix is prepended to environment overrides, e.g.
// BGP_SHORTLIVED_DATABASE_URL for database.url.
const EnvPrefix = "BGP_SHORTLIVED"

// Config is the complete runtime configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Broker     BrokerConfig     `mapstructure:"broker" yaml:"broker"`
	Ingest     IngestConfig     `mapstructure:"ingest" yaml:"ingest"`
	Detect     DetectConfig     `mapstructure:"detect" yaml:"detect"`
	Reputation ReputationConfig `mapstructure:"reputation" yaml:"reputation"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	ASNData    ASNDataConfig    `mapstructure:"asn_data" yaml:"asn_data"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// DatabaseConfig points at the PostgreSQL event store.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" yaml:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// BrokerConfig selects the update files to ingest.
type BrokerConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	Project   string        `mapstructure:"project" yaml:"project"`
	Collector string        `mapstructure:"collector" yaml:"collector"`
	PageSize  int           `mapstructure:"page_size" yaml:"page_size"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// IngestConfig tunes the parse/load pipeline.
type IngestConfig struct {
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	Workers      int           `mapstructure:"workers" yaml:"workers"`
	ChannelSize  int           `mapstructure:"channel_size" yaml:"channel_size"`
	Delimiter    string        `mapstructure:"delimiter" yaml:"delimiter"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

// DetectConfig holds the short-lived scan defaults.
type DetectConfig struct {
	Window      time.Duration `mapstructure:"window" yaml:"window"`
	Chunk       time.Duration `mapstructure:"chunk" yaml:"chunk"`
	Limit       int           `mapstructure:"limit" yaml:"limit"`
	GlobalLimit bool          `mapstructure:"global_limit" yaml:"global_limit"`
	Threshold   float64       `mapstructure:"threshold" yaml:"threshold"`
}

// ReputationConfig configures the threat intelligence API.
type ReputationConfig struct {
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	Token             string        `mapstructure:"token" yaml:"token"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// CacheConfig configures the reputation cache layers. An empty RedisURL
// keeps the cache in process memory only.
type CacheConfig struct {
	RedisURL  string        `mapstructure:"redis_url" yaml:"redis_url"`
	MemoryTTL time.Duration `mapstructure:"memory_ttl" yaml:"memory_ttl"`
}

// ASNDataConfig locates ASN-to-country data. File wins over Table.
type ASNDataConfig struct {
	File  string `mapstructure:"file" yaml:"file"`
	Table string `mapstructure:"table" yaml:"table"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set.
type MetricsConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
}

// SetDefaults registers every key with its default value. Keys must be
// known to viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "postgres://localhost:5432/bgp?sslmode=disable")
	v.SetDefault("database.max_open_conns", 4)

	v.SetDefault("broker.url", broker.DefaultURL)
	v.SetDefault("broker.project", broker.DefaultProject)
	v.SetDefault("broker.collector", broker.DefaultCollector)
	v.SetDefault("broker.page_size", broker.DefaultPageSize)
	v.SetDefault("broker.timeout", 30*time.Second)

	v.SetDefault("ingest.batch_size", ingest.DefaultBatchSize)
	v.SetDefault("ingest.workers", runtime.NumCPU())
	v.SetDefault("ingest.channel_size", ingest.DefaultChannelSize)
	v.SetDefault("ingest.delimiter", string(codec.DefaultDelimiter))
	v.SetDefault("ingest.fetch_timeout", 5*time.Minute)

	v.SetDefault("detect.window", detector.DefaultWindow)
	v.SetDefault("detect.chunk", detector.DefaultChunkSize)
	v.SetDefault("detect.limit", 0)
	v.SetDefault("detect.global_limit", false)
	v.SetDefault("detect.threshold", 0.0)

	v.SetDefault("reputation.endpoint", "")
	v.SetDefault("reputation.token", "")
	v.SetDefault("reputation.timeout", 30*time.Second)
	v.SetDefault("reputation.concurrency", reputation.DefaultConcurrency)
	v.SetDefault("reputation.requests_per_second", reputation.DefaultRequestsPerSecond)
	v.SetDefault("reputation.burst", reputation.DefaultBurst)
	v.SetDefault("reputation.cache_ttl", 24*time.Hour)

	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.memory_ttl", 10*time.Minute)

	v.SetDefault("asn_data.file", "")
	v.SetDefault("asn_data.table", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)

	v.SetDefault("metrics.address", "")
}

// Load builds a Config from v. When path is empty, config.yaml is searched
// in the working directory and $HOME/.bgp-shortlived; a missing file is not
// an error. Flags must be bound to v before calling Load.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".bgp-shortlived"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline or detector cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if utf8.RuneCountInString(c.Ingest.Delimiter) != 1 || !codec.ValidDelimiter(c.DelimiterRune()) {
		errs = append(errs, fmt.Errorf("ingest.delimiter %q must be a single character other than NUL, quote, backslash or newline", c.Ingest.Delimiter))
	}
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.batch_size must be positive, got %d", c.Ingest.BatchSize))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("ingest.workers must be positive, got %d", c.Ingest.Workers))
	}
	if c.Ingest.ChannelSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.channel_size must be positive, got %d", c.Ingest.ChannelSize))
	}
	if c.Detect.Window <= 0 {
		errs = append(errs, fmt.Errorf("detect.window must be positive, got %s", c.Detect.Window))
	}
	if c.Detect.Chunk <= 0 {
		errs = append(errs, fmt.Errorf("detect.chunk must be positive, got %s", c.Detect.Chunk))
	}
	if c.Detect.Limit < 0 {
		errs = append(errs, fmt.Errorf("detect.limit must not be negative, got %d", c.Detect.Limit))
	}
	if c.Detect.Threshold < 0 || c.Detect.Threshold > 1 {
		errs = append(errs, fmt.Errorf("detect.threshold must be within [0, 1], got %g", c.Detect.Threshold))
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("database.max_open_conns must not be negative, got %d", c.Database.MaxOpenConns))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DelimiterRune returns the record delimiter as a rune.
func (c *Config) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Ingest.Delimiter)
	return r
}

// Redacted returns a copy safe to print: credentials are masked.
func (c *Config) Redacted() Config {
	r := *c
	if r.Reputation.Token != "" {
		r.Reputation.Token = "********"
	}
	r.Database.URL = redactURL(r.Database.URL)
	r.Cache.RedisURL = redactURL(r.Cache.RedisURL)
	return r
}

func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return raw
	}
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return raw
	}
	return scheme + "://" + user + ":********@" + host
}
