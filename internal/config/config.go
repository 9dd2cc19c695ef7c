// Package config loads catalog-explorer settings from an optional YAML file,
// CATALOG_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/catalog-explorer/pkg/catalog"
	"github.com/Sternrassler/catalog-explorer/pkg/fetchcache"
	"github.com/Sternrassler/catalog-explorer/pkg/logging"
	"github.com/Sternrassler/catalog-explorer/pkg/progress"
	"github.com/Sternrassler/catalog-explorer/pkg/resulttree"
	"github.com/Sternrassler/catalog-explorer/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CATALOG_API_KEY.
const EnvPrefix = "CATALOG"

// Config is the full application configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Search  SearchConfig  `mapstructure:"search"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig configures the catalog transport.
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Key            string        `mapstructure:"key"`
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// RedisConfig enables the shared response cache and rate limit state.
type RedisConfig struct {
	// Addr is host:port. Empty keeps everything in memory.
	Addr string `mapstructure:"addr"`
}

// CacheConfig configures the response cache and the artifact directory.
type CacheConfig struct {
	Dir          string        `mapstructure:"dir"`
	MemoryTTL    time.Duration `mapstructure:"memory_ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// SearchConfig configures result trees and multi-resource runs.
type SearchConfig struct {
	PageSize         int           `mapstructure:"page_size"`
	PageTimeout      time.Duration `mapstructure:"page_timeout"`
	CountTimeout     time.Duration `mapstructure:"count_timeout"`
	GroupBySatellite bool          `mapstructure:"group_by_satellite"`
	Thumbnails       bool          `mapstructure:"thumbnails"`
	ThumbnailWidth   int           `mapstructure:"thumbnail_width"`
}

// LogConfig configures logging.Setup.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers a default for every key on v.
func SetDefaults(v *viper.Viper) {
	api := transport.DefaultConfig("", "")
	tree := resulttree.DefaultConfig()

	v.SetDefault("api.base_url", catalog.DefaultBaseURL)
	v.SetDefault("api.key", "")
	v.SetDefault("api.user_agent", "catalog-explorer/0.1.0")
	v.SetDefault("api.timeout", api.Timeout)
	v.SetDefault("api.rate_limit", api.RateLimit)
	v.SetDefault("api.max_concurrency", api.MaxConcurrency)
	v.SetDefault("api.max_retries", api.MaxRetries)

	v.SetDefault("redis.addr", "")

	v.SetDefault("cache.dir", defaultCacheDir())
	v.SetDefault("cache.memory_ttl", api.MemoryCacheTTL)
	v.SetDefault("cache.fetch_timeout", 30*time.Second)

	v.SetDefault("search.page_size", tree.PageSize)
	v.SetDefault("search.page_timeout", tree.PageTimeout)
	v.SetDefault("search.count_timeout", tree.CountTimeout)
	v.SetDefault("search.group_by_satellite", tree.GroupBySatellite)
	v.SetDefault("search.thumbnails", tree.AutoThumbnails)
	v.SetDefault("search.thumbnail_width", tree.ThumbnailWidth)

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)

	v.SetDefault("metrics.addr", "")
}

// New returns a viper instance with defaults and environment overrides
// installed. Flags may be bound to it before Load reads it.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (optional) into v and decodes the result. An empty path
// looks for catalog-explorer.yaml in the working directory and the user
// config directory; a missing file there is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("catalog-explorer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "catalog-explorer"))
		}
	}

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

// Validate rejects values the components would refuse later.
func (c *Config) Validate() error {
	if c.API.UserAgent == "" {
		return fmt.Errorf("api.user_agent is required")
	}
	if c.API.MaxConcurrency < 1 {
		return fmt.Errorf("api.max_concurrency must be >= 1 (got %d)", c.API.MaxConcurrency)
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must be >= 0 (got %d)", c.API.MaxRetries)
	}
	if c.Search.PageSize < 1 {
		return fmt.Errorf("search.page_size must be >= 1 (got %d)", c.Search.PageSize)
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if err := logging.ValidateLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Transport returns the transport configuration. rdb may be nil.
func (c *Config) Transport(rdb *redis.Client) transport.Config {
	cfg := transport.DefaultConfig(c.API.Key, c.API.UserAgent)
	cfg.Redis = rdb
	cfg.Timeout = c.API.Timeout
	cfg.RateLimit = c.API.RateLimit
	cfg.MaxConcurrency = c.API.MaxConcurrency
	cfg.MaxRetries = c.API.MaxRetries
	cfg.MemoryCacheTTL = c.Cache.MemoryTTL
	return cfg
}

// RedisClient returns a client for Redis.Addr, or nil when Redis is disabled.
func (c *Config) RedisClient() *redis.Client {
	if c.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: c.Redis.Addr})
}

// Thumbnails returns the artifact cache configuration.
func (c *Config) Thumbnails() fetchcache.Config {
	cfg := fetchcache.DefaultConfig(filepath.Join(c.Cache.Dir, "thumbnails"))
	cfg.Timeout = c.Cache.FetchTimeout
	return cfg
}

// Tree returns the result tree configuration.
func (c *Config) Tree() resulttree.Config {
	return resulttree.Config{
		PageSize:         c.Search.PageSize,
		PageTimeout:      c.Search.PageTimeout,
		CountTimeout:     c.Search.CountTimeout,
		GroupBySatellite: c.Search.GroupBySatellite,
		AutoThumbnails:   c.Search.Thumbnails,
		ThumbnailWidth:   c.Search.ThumbnailWidth,
	}
}

// Progress returns the multi-resource fetcher configuration.
func (c *Config) Progress() progress.Config {
	cfg := progress.DefaultConfig()
	cfg.PageTimeout = c.Search.PageTimeout
	return cfg
}

// Logging returns the logging configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "catalog-explorer")
	}
	return filepath.Join(os.TempDir(), "catalog-explorer")
}
