// Package domain defines the core interfaces and types for bedside.
package domain

import (
	"context"
	"time"
)

// Repository persists custom instrument definitions.
// It never stores patient inputs or evaluation results.
type Repository interface {
	// Instrument operations
	SaveInstrument(ctx context.Context, inst *Instrument) error
	GetInstrument(ctx context.Context, id string) (*StoredInstrument, error)
	ListInstruments(ctx context.Context) ([]*StoredInstrument, error)
	DeleteInstrument(ctx context.Context, id string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoredInstrument is an instrument definition with its storage metadata.
type StoredInstrument struct {
	Instrument *Instrument `json:"instrument"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgres_port"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgres_user"`
	PostgresPassword string `json:"-" mapstructure:"postgres_password"`
	PostgresDB       string `json:"postgresDB" mapstructure:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSSLMode" mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"conn_max_lifetime"`
}
