package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level operational configuration. Timeout budgets, TTLs
// and the concurrency cap are operational policy, tuned per deployment.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Redis      RedisConfig      `yaml:"redis"`
	Scan       ScanConfig       `yaml:"scan"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Downstream DownstreamConfig `yaml:"downstream"`
	LogLevel   string           `yaml:"log_level"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds the shared KV store settings.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ScanConfig holds the two-level timeout budget and cache TTL discipline.
//
// Budget is the hard wall-clock ceiling for a whole scan batch. MinStrategyTimeout
// and MaxStrategyTimeout clamp the dynamic per-strategy timeout; MaxStrategyTimeout
// may exceed Budget on purpose. It is a runaway-evaluator safety net, not the SLA.
type ScanConfig struct {
	Budget             time.Duration `yaml:"budget"`
	MinStrategyTimeout time.Duration `yaml:"min_strategy_timeout"`
	MaxStrategyTimeout time.Duration `yaml:"max_strategy_timeout"`
	Concurrency        int           `yaml:"concurrency"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	LookupTTLBuffer    time.Duration `yaml:"lookup_ttl_buffer"`
}

// LookupTTL returns the TTL applied to lookup records. It must outlive the
// cache entry it points to or the mapping becomes a dangling pointer that
// shows up as a false not-found.
func (s ScanConfig) LookupTTL() time.Duration {
	return s.CacheTTL + s.LookupTTLBuffer
}

// ArchiveConfig controls the optional Postgres archive of terminal scans.
type ArchiveConfig struct {
	Enabled      bool          `yaml:"enabled"`
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// DownstreamConfig bounds the request rate evaluators may place on market
// data and AI backends.
type DownstreamConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Scan: ScanConfig{
			Budget:             45 * time.Second,
			MinStrategyTimeout: 8 * time.Second,
			MaxStrategyTimeout: 60 * time.Second,
			Concurrency:        4,
			CacheTTL:           30 * time.Minute,
			LookupTTLBuffer:    5 * time.Minute,
		},
		Archive: ArchiveConfig{
			Enabled:      false,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			QueryTimeout: 30 * time.Second,
		},
		Downstream: DownstreamConfig{RPS: 10, Burst: 20},
		LogLevel:   "info",
	}
}

// Load reads the YAML config at path, layering it over Default and then
// applying environment overrides. An empty path returns Default plus env.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = p
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		cfg.Archive.DSN = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func (c Config) validate() error {
	if c.Scan.Budget <= 0 {
		return fmt.Errorf("scan budget must be positive, got %s", c.Scan.Budget)
	}
	if c.Scan.MinStrategyTimeout > c.Scan.MaxStrategyTimeout {
		return fmt.Errorf("min_strategy_timeout %s exceeds max_strategy_timeout %s",
			c.Scan.MinStrategyTimeout, c.Scan.MaxStrategyTimeout)
	}
	if c.Scan.Concurrency < 1 {
		return fmt.Errorf("scan concurrency must be at least 1, got %d", c.Scan.Concurrency)
	}
	// Progress writes refresh the cache entry's TTL while the lookup records
	// keep the TTL set at initiation, so a running scan erodes the buffer by
	// up to one full budget. The buffer must absorb that or a lookup record
	// expires before the entry it points to.
	if c.Scan.LookupTTLBuffer <= c.Scan.Budget {
		return fmt.Errorf("lookup_ttl_buffer %s must exceed scan budget %s",
			c.Scan.LookupTTLBuffer, c.Scan.Budget)
	}
	return nil
}
