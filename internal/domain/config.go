package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete bedside configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Instruments controls which rule tables are loaded at startup.
	Instruments InstrumentsConfig `json:"instruments" mapstructure:"instruments"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// InstrumentsConfig holds rule table loading settings.
type InstrumentsConfig struct {
	// Builtin lists embedded instruments to load; empty loads all of them.
	Builtin []string `json:"builtin" mapstructure:"builtin"`

	// Dir is an optional directory of additional YAML or JSON rule tables.
	Dir string `json:"dir" mapstructure:"dir"`

	// AllowCustom enables creating and deleting instruments over the API.
	AllowCustom bool `json:"allowCustom" mapstructure:"allow_custom"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text

	// File enables rotating file output in addition to stderr.
	File       string `json:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"maxSizeMB" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"maxBackups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"maxAgeDays" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName  string `json:"serviceName" mapstructure:"service_name"`
	ExporterType string `json:"exporterType" mapstructure:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint" mapstructure:"endpoint"`
}

// DefaultConfig returns a single-node configuration: SQLite, memory cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Instruments: InstrumentsConfig{
			AllowCustom: true,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./bedside.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			CatalogTTL:   time.Minute,
			UsageWindow:  24 * time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "bedside",
		},
	}
}

// ClusterConfig returns a configuration for running several nodes behind a
// load balancer: PostgreSQL, Redis and NATS.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "bedside",
	}
	cfg.Cache.Type = "redis"
	cfg.Cache.RedisAddr = "localhost:6379"
	cfg.Cache.EnableTwoPhase = true
	cfg.Cache.LocalMaxSize = 1000
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	cfg.Tracing.ExporterType = "otlp"
	cfg.Tracing.Endpoint = "localhost:4318"
	return cfg
}

// Validate checks every section and returns the first error.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Repository.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.EventBus.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return c.Tracing.Validate()
}

// Validate checks the tracing section. The exporter only matters when
// tracing is enabled.
func (t *TracingConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	switch strings.ToLower(t.ExporterType) {
	case "", "stdout", "otlp", "jaeger":
		return nil
	default:
		return fmt.Errorf("tracing.exporter_type: unsupported exporter '%s'", t.ExporterType)
	}
}

// Validate checks the server section.
func (s *ServerConfig) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", s.Port)
	}
	return nil
}

// Validate checks the repository section.
func (r *RepositoryConfig) Validate() error {
	switch r.Driver {
	case "sqlite":
		if r.SQLitePath == "" {
			return errors.New("repository.sqlite_path: must be specified")
		}
	case "postgres":
		if r.PostgresHost == "" || r.PostgresDB == "" {
			return errors.New("repository: postgres_host and postgres_db must be specified")
		}
	default:
		return fmt.Errorf("repository.driver: unsupported driver '%s'", r.Driver)
	}
	return nil
}

// Validate checks the cache section.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("cache.redis_addr: must be specified")
		}
	default:
		return fmt.Errorf("cache.type: unsupported type '%s'", c.Type)
	}
	if c.UsageWindow < 0 || c.CatalogTTL < 0 {
		return errors.New("cache: durations must not be negative")
	}
	return nil
}

// Validate checks the event bus section.
func (e *EventBusConfig) Validate() error {
	switch e.Type {
	case "channel":
	case "nats":
		if e.NATSUrl == "" {
			return errors.New("event_bus.nats_url: must be specified")
		}
	default:
		return fmt.Errorf("event_bus.type: unsupported type '%s'", e.Type)
	}
	return nil
}

// Validate checks the logging section.
func (l *LoggingConfig) Validate() error {
	valid := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !valid[strings.ToLower(l.Level)] {
		return fmt.Errorf("logging.level: unsupported level '%s'", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format: unsupported format '%s'", l.Format)
	}
	return nil
}
