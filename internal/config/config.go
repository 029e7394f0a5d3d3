// Package config loads runtime settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"evm-token-lab/internal/domain"
)

// Store backends.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
)

const chainRPCPrefix = "CHAIN_RPC_"

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Chains     []ChainConfig    `yaml:"chains"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Logs       LogScanConfig    `yaml:"logs"`
	Server     ServerConfig     `yaml:"server"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type ClickHouseConfig struct {
	DSN      string `yaml:"dsn"`
	Database string `yaml:"database"`
}

// RedisConfig enables the read-through cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type ChainConfig struct {
	ID     int64  `yaml:"id"`
	RPCURL string `yaml:"rpc_url"`
	// RateLimit is the max eth_call rate per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type ResolverConfig struct {
	Workers      int           `yaml:"workers"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// LogScanConfig controls the logs mode.
type LogScanConfig struct {
	// BlockWindow is the widest block range requested per eth_getLogs call.
	BlockWindow uint64 `yaml:"block_window"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Encoding: "json"},
		Store: StoreConfig{Backend: BackendMemory},
		ClickHouse: ClickHouseConfig{
			Database: "default",
		},
		Redis: RedisConfig{TTL: 24 * time.Hour},
		Resolver: ResolverConfig{
			Workers:      16,
			FetchTimeout: 10 * time.Second,
			MaxRetries:   3,
		},
		Logs: LogScanConfig{BlockWindow: 2000},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads path (if non-empty), applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Encoding = getEnv("LOG_ENCODING", c.Log.Encoding)
	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Postgres.DSN = getEnv("POSTGRES_DSN", c.Postgres.DSN)
	c.ClickHouse.DSN = getEnv("CLICKHOUSE_DSN", c.ClickHouse.DSN)
	c.ClickHouse.Database = getEnv("CLICKHOUSE_DATABASE", c.ClickHouse.Database)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)

	var err error
	if c.Redis.TTL, err = getEnvDuration("REDIS_TTL", c.Redis.TTL); err != nil {
		return err
	}
	if c.Resolver.Workers, err = getEnvInt("RESOLVER_WORKERS", c.Resolver.Workers); err != nil {
		return err
	}
	if c.Resolver.FetchTimeout, err = getEnvDuration("RESOLVER_FETCH_TIMEOUT", c.Resolver.FetchTimeout); err != nil {
		return err
	}

	return c.applyChainEnv(os.Environ())
}

// applyChainEnv reads CHAIN_RPC_<ID>=<url> entries, overriding the URL of an
// existing chain or adding a new one.
func (c *Config) applyChainEnv(environ []string) error {
	var keys []string
	urls := map[string]string{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, chainRPCPrefix) || v == "" {
			continue
		}
		keys = append(keys, k)
		urls[k] = v
	}
	sort.Strings(keys)

	for _, k := range keys {
		id, err := strconv.ParseInt(strings.TrimPrefix(k, chainRPCPrefix), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: chain id must be an integer", k)
		}
		found := false
		for i := range c.Chains {
			if c.Chains[i].ID == id {
				c.Chains[i].RPCURL = urls[k]
				found = true
			}
		}
		if !found {
			c.Chains = append(c.Chains, ChainConfig{ID: id, RPCURL: urls[k]})
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres backend")
		}
	case BackendClickHouse:
		if c.ClickHouse.DSN == "" {
			return errors.New("CLICKHOUSE_DSN is required for the clickhouse backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Resolver.Workers <= 0 {
		return fmt.Errorf("resolver workers must be positive, got %d", c.Resolver.Workers)
	}
	if c.Resolver.FetchTimeout <= 0 {
		return fmt.Errorf("resolver fetch timeout must be positive, got %s", c.Resolver.FetchTimeout)
	}
	if c.Resolver.MaxRetries < 0 {
		return fmt.Errorf("resolver max retries must not be negative, got %d", c.Resolver.MaxRetries)
	}
	if c.Logs.BlockWindow == 0 {
		return errors.New("logs block_window must be positive")
	}
	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		return fmt.Errorf("redis ttl must be positive, got %s", c.Redis.TTL)
	}

	seen := make(map[int64]bool, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.ID <= 0 {
			return fmt.Errorf("chain id must be positive, got %d", ch.ID)
		}
		if seen[ch.ID] {
			return fmt.Errorf("chain %d configured twice", ch.ID)
		}
		seen[ch.ID] = true
		if ch.RPCURL == "" {
			return fmt.Errorf("chain %d has no rpc_url", ch.ID)
		}
		if ch.RateLimit < 0 {
			return fmt.Errorf("chain %d rate_limit must not be negative", ch.ID)
		}
	}
	return nil
}

// Endpoints maps chain IDs to RPC URLs.
func (c *Config) Endpoints() map[domain.ChainID]string {
	out := make(map[domain.ChainID]string, len(c.Chains))
	for _, ch := range c.Chains {
		out[domain.ChainID(ch.ID)] = ch.RPCURL
	}
	return out
}

// Chain returns the settings for id.
func (c *Config) Chain(id domain.ChainID) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ID == int64(id) {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
