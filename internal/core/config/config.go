package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "EVENTKERNEL_"

// Config represents the top-level application config.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Contracts   ContractsConfig   `koanf:"contracts"`
	Projections ProjectionsConfig `koanf:"projections"`
	Logging     LoggingConfig     `koanf:"logging"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"` // postgres | sqlite | memory
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Channel  string `koanf:"channel"`
}

type ContractsConfig struct {
	Path     string `koanf:"path"`
	Required bool   `koanf:"required"`
}

type ProjectionsConfig struct {
	DispatchMode       string        `koanf:"dispatch_mode"` // sequential | parallel
	DispatchRetryCount int           `koanf:"dispatch_retry_count"`
	DispatchRetryDelay time.Duration `koanf:"dispatch_retry_delay"`
	MaxRetries         int           `koanf:"max_retries"`
	RetryDelay         time.Duration `koanf:"retry_delay"`
	RebuildBatchSize   int           `koanf:"rebuild_batch_size"`
	RebuildOnStart     bool          `koanf:"rebuild_on_start"`
	RealtimeSync       bool          `koanf:"realtime_sync"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

// SlogLevel maps logging.level onto a slog level. Validate guarantees the value is known.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch c.Database.Type {
	case "postgres", "sqlite":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for database.type %q", c.Database.Type)
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}

	if c.Redis.Enabled {
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when redis is enabled")
		}
		if strings.TrimSpace(c.Redis.Channel) == "" {
			return fmt.Errorf("redis.channel is required when redis is enabled")
		}
	}

	if c.Contracts.Path != "" {
		if _, err := os.Stat(c.Contracts.Path); err != nil {
			return fmt.Errorf("contracts.path %q is not accessible: %w", c.Contracts.Path, err)
		}
	} else if c.Contracts.Required {
		return fmt.Errorf("contracts.path is required when contracts.required is set")
	}

	p := c.Projections
	if p.DispatchMode != "sequential" && p.DispatchMode != "parallel" {
		return fmt.Errorf("invalid projections.dispatch_mode %q (must be sequential or parallel)", p.DispatchMode)
	}
	if p.DispatchRetryCount <= 0 {
		return fmt.Errorf("projections.dispatch_retry_count must be > 0")
	}
	if p.MaxRetries <= 0 {
		return fmt.Errorf("projections.max_retries must be > 0")
	}
	if p.DispatchRetryDelay < 0 || p.RetryDelay < 0 {
		return fmt.Errorf("projection retry delays must be >= 0")
	}
	if p.RebuildBatchSize <= 0 {
		return fmt.Errorf("projections.rebuild_batch_size must be > 0")
	}
	if p.RealtimeSync && c.Database.Type != "memory" && !c.Redis.Enabled {
		return fmt.Errorf("projections.realtime_sync on %s requires redis.enabled", c.Database.Type)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}

	return nil
}

// Load parses config from defaults, then the optional file, then EVENTKERNEL_ env vars, and validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                      8080,
		"server.host":                      "0.0.0.0",
		"server.max_body_size_mb":          1,
		"server.mode":                      "release",
		"database.type":                    "sqlite",
		"database.dsn":                     "eventkernel.db",
		"database.max_open_conns":          25,
		"database.max_idle_conns":          25,
		"database.auto_migrate":            true,
		"redis.enabled":                    false,
		"redis.addr":                       "localhost:6379",
		"redis.password":                   "",
		"redis.db":                         0,
		"redis.channel":                    "eventkernel:events",
		"contracts.path":                   "",
		"contracts.required":               false,
		"projections.dispatch_mode":        "sequential",
		"projections.dispatch_retry_count": 1,
		"projections.dispatch_retry_delay": "100ms",
		"projections.max_retries":          3,
		"projections.retry_delay":          "100ms",
		"projections.rebuild_batch_size":   500,
		"projections.rebuild_on_start":     false,
		"projections.realtime_sync":        false,
		"logging.level":                    "info",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
