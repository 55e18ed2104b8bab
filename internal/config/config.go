// Package config loads the engine configuration from YAML files and
// environment variables. Environment variables override file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hubscan/reconciler-go/chains"
)

// Config holds all configuration for the reconciliation engine.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Hub      HubConfig      `yaml:"hub"`
	Price    PriceConfig    `yaml:"price"`
	Resolver ResolverConfig `yaml:"resolver"`
	Chains   ChainsConfig   `yaml:"chains"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
}

// StoreConfig holds document-store configuration.
type StoreConfig struct {
	// Backend selects the store implementation: "mongo" or "memory".
	Backend string `yaml:"backend"`
	// URI is the MongoDB connection string.
	URI string `yaml:"uri"`
	// Database is the MongoDB database name.
	Database string `yaml:"database"`
	// Timeout bounds each store operation.
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig holds the local read-through cache configuration.
type CacheConfig struct {
	// Enabled determines whether the local cache is opened at all.
	Enabled bool `yaml:"enabled"`
	// Path is the pebble database directory.
	Path string `yaml:"path"`
}

// HubConfig holds hub-chain connectivity configuration.
type HubConfig struct {
	// RPCEndpoint is the hub consensus RPC URL, used for end-of-block
	// event lookups.
	RPCEndpoint string `yaml:"rpc_endpoint"`
	// RPCTimeout bounds each RPC call.
	RPCTimeout time.Duration `yaml:"rpc_timeout"`
	// LCDEndpoints are the hub LCD URLs, tried in order.
	LCDEndpoints []string `yaml:"lcd_endpoints"`
	// LCDTimeout bounds each LCD call.
	LCDTimeout time.Duration `yaml:"lcd_timeout"`
	// LCDRequestsPerSecond rate-limits each LCD endpoint. Zero disables.
	LCDRequestsPerSecond float64 `yaml:"lcd_requests_per_second"`
	// ReindexEndpoint is the out-of-band indexer's ingest API. Empty
	// disables reindex requests.
	ReindexEndpoint string `yaml:"reindex_endpoint"`
	// ReindexTimeout bounds each reindex request.
	ReindexTimeout time.Duration `yaml:"reindex_timeout"`
}

// PriceConfig holds price oracle configuration.
type PriceConfig struct {
	// Endpoint is the price API URL. Empty disables transfer valuation.
	Endpoint string `yaml:"endpoint"`
	// Timeout bounds each price lookup.
	Timeout time.Duration `yaml:"timeout"`
}

// ResolverConfig holds vote-resolution configuration.
type ResolverConfig struct {
	// Workers is the number of transactions resolved concurrently.
	Workers int `yaml:"workers"`
}

// ChainsConfig points at the chain and asset registry definition.
type ChainsConfig struct {
	// File is the YAML file declaring the hub, counterparty chains and
	// assets.
	File string `yaml:"file"`
}

// APIConfig holds the HTTP API server configuration.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// IdleTimeout is the maximum duration to wait for the next request.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// EnableRateLimit enables global request rate limiting.
	EnableRateLimit bool `yaml:"enable_rate_limit"`
	// RateLimitPerSecond is the sustained request rate when limiting.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	// RateLimitBurst is the rate-limit burst size.
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for any missing configuration.
func (c *Config) SetDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = "mongo"
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = 10 * time.Second
	}

	if c.Cache.Path == "" {
		c.Cache.Path = "data/cache"
	}

	if c.Hub.RPCTimeout == 0 {
		c.Hub.RPCTimeout = 15 * time.Second
	}
	if c.Hub.LCDTimeout == 0 {
		c.Hub.LCDTimeout = 15 * time.Second
	}
	if c.Hub.ReindexTimeout == 0 {
		c.Hub.ReindexTimeout = 10 * time.Second
	}

	if c.Price.Timeout == 0 {
		c.Price.Timeout = 10 * time.Second
	}

	if c.Resolver.Workers == 0 {
		c.Resolver.Workers = 8
	}

	if c.API.Host == "" {
		c.API.Host = "localhost"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 15 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = 50
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = 100
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables take precedence over file configuration.
func (c *Config) LoadFromEnv() error {
	if backend := os.Getenv("RECONCILER_STORE_BACKEND"); backend != "" {
		c.Store.Backend = backend
	}
	if uri := os.Getenv("RECONCILER_STORE_URI"); uri != "" {
		c.Store.URI = uri
	}
	if database := os.Getenv("RECONCILER_STORE_DATABASE"); database != "" {
		c.Store.Database = database
	}
	if timeout := os.Getenv("RECONCILER_STORE_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid RECONCILER_STORE_TIMEOUT: %w", err)
		}
		c.Store.Timeout = duration
	}

	if enabled := os.Getenv("RECONCILER_CACHE_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid RECONCILER_CACHE_ENABLED: %w", err)
		}
		c.Cache.Enabled = val
	}
	if path := os.Getenv("RECONCILER_CACHE_PATH"); path != "" {
		c.Cache.Path = path
	}

	if endpoint := os.Getenv("RECONCILER_HUB_RPC_ENDPOINT"); endpoint != "" {
		c.Hub.RPCEndpoint = endpoint
	}
	if endpoints := os.Getenv("RECONCILER_HUB_LCD_ENDPOINTS"); endpoints != "" {
		c.Hub.LCDEndpoints = splitList(endpoints)
	}
	if endpoint := os.Getenv("RECONCILER_HUB_REINDEX_ENDPOINT"); endpoint != "" {
		c.Hub.ReindexEndpoint = endpoint
	}

	if endpoint := os.Getenv("RECONCILER_PRICE_ENDPOINT"); endpoint != "" {
		c.Price.Endpoint = endpoint
	}

	if workers := os.Getenv("RECONCILER_RESOLVER_WORKERS"); workers != "" {
		val, err := strconv.Atoi(workers)
		if err != nil {
			return fmt.Errorf("invalid RECONCILER_RESOLVER_WORKERS: %w", err)
		}
		c.Resolver.Workers = val
	}

	if file := os.Getenv("RECONCILER_CHAINS_FILE"); file != "" {
		c.Chains.File = file
	}

	if enabled := os.Getenv("RECONCILER_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid RECONCILER_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("RECONCILER_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("RECONCILER_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid RECONCILER_API_PORT: %w", err)
		}
		c.API.Port = val
	}

	if level := os.Getenv("RECONCILER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("RECONCILER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file.
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadChains reads and validates the chain registry declared by the
// chains file.
func (c *Config) LoadChains() (*chains.Config, error) {
	if c.Chains.File == "" {
		return nil, fmt.Errorf("chains file is required")
	}

	data, err := os.ReadFile(c.Chains.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read chains file: %w", err)
	}

	var cfg chains.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse chains file: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "mongo":
		if c.Store.URI == "" {
			return fmt.Errorf("store uri is required for the mongo backend")
		}
		if c.Store.Database == "" {
			return fmt.Errorf("store database is required for the mongo backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store backend %q, must be one of: mongo, memory", c.Store.Backend)
	}

	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache path is required when the cache is enabled")
	}

	if len(c.Hub.LCDEndpoints) == 0 {
		return fmt.Errorf("at least one hub LCD endpoint is required")
	}

	if c.Resolver.Workers <= 0 {
		return fmt.Errorf("resolver worker count must be positive")
	}

	if c.Chains.File == "" {
		return fmt.Errorf("chains file is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	return nil
}

// Load is a convenience method that loads configuration in the following
// order:
// 1. Load from file (if provided)
// 2. Load from environment variables (override file)
// 3. Set defaults for missing values
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
