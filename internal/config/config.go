// Package config loads domain.Config from an optional YAML file and BEDSIDE_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-clinical/bedside/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g. BEDSIDE_SERVER_PORT.
const EnvPrefix = "BEDSIDE"

// Profiles select the defaults a file or the environment then override.
const (
	ProfileSingle  = "single"
	ProfileCluster = "cluster"
)

// Load reads configuration from path, which may be empty. Values are layered
// as profile defaults, then the file, then environment variables. The profile
// comes from BEDSIDE_PROFILE and defaults to single-node.
func Load(path string) (*domain.Config, error) {
	base, err := profileDefaults(os.Getenv(EnvPrefix + "_PROFILE"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, base)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func profileDefaults(profile string) (*domain.Config, error) {
	switch strings.ToLower(profile) {
	case "", ProfileSingle:
		return domain.DefaultConfig(), nil
	case ProfileCluster:
		return domain.ClusterConfig(), nil
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
}

// setDefaults registers every key so that AutomaticEnv can see it.
func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)

	v.SetDefault("instruments.builtin", c.Instruments.Builtin)
	v.SetDefault("instruments.dir", c.Instruments.Dir)
	v.SetDefault("instruments.allow_custom", c.Instruments.AllowCustom)

	r := c.Repository
	v.SetDefault("repository.driver", r.Driver)
	v.SetDefault("repository.sqlite_path", r.SQLitePath)
	v.SetDefault("repository.postgres_host", r.PostgresHost)
	v.SetDefault("repository.postgres_port", r.PostgresPort)
	v.SetDefault("repository.postgres_user", r.PostgresUser)
	v.SetDefault("repository.postgres_password", r.PostgresPassword)
	v.SetDefault("repository.postgres_db", r.PostgresDB)
	v.SetDefault("repository.postgres_ssl_mode", r.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", r.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", r.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", r.ConnMaxLifetime)

	ca := c.Cache
	v.SetDefault("cache.type", ca.Type)
	v.SetDefault("cache.local_max_size", ca.LocalMaxSize)
	v.SetDefault("cache.local_ttl", ca.LocalTTL)
	v.SetDefault("cache.redis_addr", ca.RedisAddr)
	v.SetDefault("cache.redis_password", ca.RedisPassword)
	v.SetDefault("cache.redis_db", ca.RedisDB)
	v.SetDefault("cache.enable_two_phase", ca.EnableTwoPhase)
	v.SetDefault("cache.catalog_ttl", ca.CatalogTTL)
	v.SetDefault("cache.usage_window", ca.UsageWindow)

	e := c.EventBus
	v.SetDefault("event_bus.type", e.Type)
	v.SetDefault("event_bus.channel_buffer_size", e.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", e.NATSUrl)
	v.SetDefault("event_bus.nats_token", e.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", e.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", e.NATSReconnectWait)

	l := c.Logging
	v.SetDefault("logging.level", l.Level)
	v.SetDefault("logging.format", l.Format)
	v.SetDefault("logging.file", l.File)
	v.SetDefault("logging.max_size_mb", l.MaxSizeMB)
	v.SetDefault("logging.max_backups", l.MaxBackups)
	v.SetDefault("logging.max_age_days", l.MaxAgeDays)
	v.SetDefault("logging.compress", l.Compress)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
	v.SetDefault("tracing.exporter_type", c.Tracing.ExporterType)
	v.SetDefault("tracing.endpoint", c.Tracing.Endpoint)
}
