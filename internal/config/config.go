package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Echo      EchoConfig      `yaml:"echo"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host                     string   `yaml:"host"`
	Port                     int      `yaml:"port"`
	TrustedProxies           []string `yaml:"trusted_proxies"`
	MaxBodyBytes             int64    `yaml:"max_body_bytes"`
	MaxInFlight              int      `yaml:"max_in_flight"`
	ReadHeaderTimeoutSeconds int      `yaml:"read_header_timeout_seconds"`
	IdleTimeoutSeconds       int      `yaml:"idle_timeout_seconds"`
	ShutdownTimeoutSeconds   int      `yaml:"shutdown_timeout_seconds"`
}

// Addr is the echo listener address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// MaxEchoSizeBytes bounds size_headers_bytes and size_body_bytes. Each
// response is built in memory.
const MaxEchoSizeBytes = 1 << 30

// EchoConfig shapes every response. Unset optional fields disable the
// corresponding behavior; a set size of 0 is distinct from unset.
type EchoConfig struct {
	Quiet            bool    `yaml:"quiet"`
	NoColor          bool    `yaml:"no_color"`
	DelayHeadersMs   *uint64 `yaml:"delay_headers_ms"`
	DelayBodyMs      *uint64 `yaml:"delay_body_ms"`
	SizeHeadersBytes *uint64 `yaml:"size_headers_bytes"`
	SizeBodyBytes    *uint64 `yaml:"size_body_bytes"`
}

func (e EchoConfig) HeaderDelay() time.Duration { return millis(e.DelayHeadersMs) }
func (e EchoConfig) BodyDelay() time.Duration   { return millis(e.DelayBodyMs) }

func millis(v *uint64) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(*v) * time.Millisecond
}

type LogConfig struct {
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `yaml:"format"` // "text" | "json"
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the metrics listener
}

type RateLimitConfig struct {
	Enabled bool           `yaml:"enabled"`
	RPS     float64        `yaml:"rps"`
	Burst   float64        `yaml:"burst"`
	Backend string         `yaml:"backend"` // "memory" | "redis"
	Redis   RedisConfig    `yaml:"redis"`
	Memory  MemoryRLConfig `yaml:"memory"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MemoryRLConfig struct {
	CleanupSeconds int `yaml:"cleanup_seconds"`
	TTLSeconds     int `yaml:"ttl_seconds"`
}

// Default returns a validated configuration with no file applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads the YAML file at path. An empty path yields Default().
// The result still has to be passed through Validate once flag overrides
// have been applied.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 10 << 20 // 10 MiB
	}
	if cfg.Server.ReadHeaderTimeoutSeconds == 0 {
		cfg.Server.ReadHeaderTimeoutSeconds = 10
	}
	if cfg.Server.IdleTimeoutSeconds == 0 {
		cfg.Server.IdleTimeoutSeconds = 60
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 5
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.Memory.TTLSeconds == 0 {
		cfg.RateLimit.Memory.TTLSeconds = 300
	}
	if cfg.RateLimit.Memory.CleanupSeconds == 0 {
		cfg.RateLimit.Memory.CleanupSeconds = 60
	}
}

func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if strings.TrimSpace(cfg.Server.Host) == "" {
		return errors.New("server.host is required")
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return errors.New("server.max_body_bytes cannot be negative")
	}
	if cfg.Server.MaxInFlight < 0 {
		return errors.New("server.max_in_flight cannot be negative")
	}
	for i, p := range cfg.Server.TrustedProxies {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("server.trusted_proxies[%d] is empty", i)
		}
	}

	if v := cfg.Echo.SizeHeadersBytes; v != nil && *v > MaxEchoSizeBytes {
		return fmt.Errorf("echo.size_headers_bytes must be <= %d", MaxEchoSizeBytes)
	}
	if v := cfg.Echo.SizeBodyBytes; v != nil && *v > MaxEchoSizeBytes {
		return fmt.Errorf("echo.size_body_bytes must be <= %d", MaxEchoSizeBytes)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Format)) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}

	if cfg.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr invalid: %v", err)
		}
		if cfg.Metrics.Addr == cfg.Server.Addr() {
			return errors.New("metrics.addr must differ from the echo listener")
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate_limit.rps must be > 0 when enabled")
		}
		if cfg.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be > 0 when enabled")
		}
		backend := strings.ToLower(strings.TrimSpace(cfg.RateLimit.Backend))
		if backend != "redis" && backend != "memory" {
			return fmt.Errorf("rate_limit.backend must be 'redis' or 'memory'")
		}
		if backend == "redis" && strings.TrimSpace(cfg.RateLimit.Redis.Addr) == "" {
			return fmt.Errorf("rate_limit.redis.addr is required when backend is redis")
		}
	}
	return nil
}
