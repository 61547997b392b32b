// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/wikicrawl/internal/crawler"
)

// EnvPrefix prefixes every environment override, e.g. WIKICRAWL_CRAWLER_WORKERS.
const EnvPrefix = "WIKICRAWL"

// Backend names accepted by the storage, frontier and index sections.
const (
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Frontier FrontierConfig `mapstructure:"frontier"`
	Index    IndexConfig    `mapstructure:"index"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlerConfig governs the crawl pipeline and politeness.
type CrawlerConfig struct {
	RootURL           string        `mapstructure:"root_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	Workers           int           `mapstructure:"workers"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RateInterval      time.Duration `mapstructure:"rate_interval"`
	MaxInFlight       int           `mapstructure:"max_in_flight"`
	RetryCeiling      int           `mapstructure:"retry_ceiling"`
	MaxDiscoveryPages int           `mapstructure:"max_discovery_pages"`
	MaxEntities       int           `mapstructure:"max_entities"`
	BackoffInitial    time.Duration `mapstructure:"backoff_initial"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	MaxRetryAfter     time.Duration `mapstructure:"max_retry_after"`
	MaxBodyBytes      int           `mapstructure:"max_body_bytes"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	RepairThumbnails  bool          `mapstructure:"repair_thumbnails"`
}

// StorageConfig selects where HTML and thumbnails are written.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	OutputDir     string `mapstructure:"output_dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	GCSPrefix     string `mapstructure:"gcs_prefix"`
	WriteAttempts int    `mapstructure:"write_attempts"`
}

// FrontierConfig selects the frontier persistence backend.
type FrontierConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

// IndexConfig selects the entity index backend. The SQLite file also holds
// the frontier when the frontier backend is sqlite.
type IndexConfig struct {
	Backend         string        `mapstructure:"backend"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	PostgresDSN     string        `mapstructure:"postgres_dsn"`
	PostgresTable   string        `mapstructure:"postgres_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ServerConfig controls the read-only index API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// New returns a Viper instance with defaults and environment overrides
// applied. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(New(), path)
}

// LoadWith reads the optional config file into v and unmarshals the result.
func LoadWith(v *viper.Viper, path string) (Config, error) {
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
	v.SetDefault("crawler.root_url", "")
	v.SetDefault("crawler.user_agent", "wikicrawl/0.1 (+category crawler)")
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.rate_interval", 500*time.Millisecond)
	v.SetDefault("crawler.max_in_flight", 4)
	v.SetDefault("crawler.retry_ceiling", 5)
	v.SetDefault("crawler.max_discovery_pages", 0)
	v.SetDefault("crawler.max_entities", 0)
	v.SetDefault("crawler.backoff_initial", 500*time.Millisecond)
	v.SetDefault("crawler.backoff_max", 30*time.Second)
	v.SetDefault("crawler.max_retry_after", 5*time.Minute)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.repair_thumbnails", false)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.output_dir", "data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "")
	v.SetDefault("storage.write_attempts", 3)
	v.SetDefault("frontier.backend", BackendSQLite)
	v.SetDefault("frontier.redis_addr", "localhost:6379")
	v.SetDefault("frontier.redis_password", "")
	v.SetDefault("frontier.redis_db", 0)
	v.SetDefault("frontier.redis_key", "wikicrawl:frontier")
	v.SetDefault("index.backend", BackendSQLite)
	v.SetDefault("index.sqlite_path", "data/wikicrawl.db")
	v.SetDefault("index.postgres_dsn", "")
	v.SetDefault("index.postgres_table", "entities")
	v.SetDefault("index.max_conns", 4)
	v.SetDefault("index.min_conns", 0)
	v.SetDefault("index.max_conn_lifetime", time.Hour)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. The root URL is
// checked separately by RequireRootURL because only the crawl command needs it.
func (c Config) Validate() error {
	var errs []error
	if c.Crawler.Workers <= 0 {
		errs = append(errs, errors.New("crawler.workers must be > 0"))
	}
	if c.Crawler.RequestTimeout <= 0 {
		errs = append(errs, errors.New("crawler.request_timeout must be > 0"))
	}
	if c.Crawler.RateInterval < 0 {
		errs = append(errs, errors.New("crawler.rate_interval must be >= 0"))
	}
	if c.Crawler.MaxInFlight <= 0 {
		errs = append(errs, errors.New("crawler.max_in_flight must be > 0"))
	}
	if c.Crawler.RetryCeiling <= 0 {
		errs = append(errs, errors.New("crawler.retry_ceiling must be > 0"))
	}
	if c.Crawler.MaxDiscoveryPages < 0 || c.Crawler.MaxEntities < 0 {
		errs = append(errs, errors.New("crawler.max_discovery_pages and crawler.max_entities must be >= 0"))
	}
	if c.Storage.WriteAttempts <= 0 {
		errs = append(errs, errors.New("storage.write_attempts must be > 0"))
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.OutputDir == "" {
			errs = append(errs, errors.New("storage.output_dir is required for the local backend"))
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be local or gcs", c.Storage.Backend))
	}
	switch c.Frontier.Backend {
	case BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Frontier.RedisAddr == "" {
			errs = append(errs, errors.New("frontier.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("frontier.backend %q must be sqlite, redis or memory", c.Frontier.Backend))
	}
	switch c.Index.Backend {
	case BackendSQLite:
		if c.Index.SQLitePath == "" {
			errs = append(errs, errors.New("index.sqlite_path is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.Index.PostgresDSN == "" {
			errs = append(errs, errors.New("index.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("index.backend %q must be sqlite or postgres", c.Index.Backend))
	}
	if c.Frontier.Backend == BackendSQLite && c.Index.SQLitePath == "" {
		errs = append(errs, errors.New("index.sqlite_path is required when frontier.backend is sqlite"))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	return errors.Join(errs...)
}

// RequireRootURL checks that a crawlable root category URL is configured.
func (c Config) RequireRootURL() error {
	if c.Crawler.RootURL == "" {
		return errors.New("crawler.root_url is required")
	}
	if _, err := crawler.CanonicalURL(c.Crawler.RootURL); err != nil {
		return fmt.Errorf("crawler.root_url: %w", err)
	}
	return nil
}

// UsesSQLite reports whether any component needs the SQLite database.
func (c Config) UsesSQLite() bool {
	return c.Frontier.Backend == BackendSQLite || c.Index.Backend == BackendSQLite
}
