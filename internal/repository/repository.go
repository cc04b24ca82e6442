// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-clinical/bedside/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveInstrument stores an instrument definition. Saving an existing id and
// version replaces the definition and re-enables it if it was deleted.
func (r *SQLRepository) SaveInstrument(ctx context.Context, inst *domain.Instrument) error {
	if inst == nil || inst.ID == "" || inst.Version == "" {
		return fmt.Errorf("%w: instrument id and version are required", ErrInvalidInput)
	}

	definition, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to encode instrument %s: %w", inst.ID, err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO instruments (
			id, version, name, definition, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			enabled = 1,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		inst.ID, inst.Version, inst.Name, string(definition), now, now,
	)
	return err
}

// GetInstrument retrieves the most recently saved enabled version of an instrument.
func (r *SQLRepository) GetInstrument(ctx context.Context, id string) (*domain.StoredInstrument, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: instrument id is required", ErrInvalidInput)
	}

	query := `
		SELECT definition, created_at, updated_at
		FROM instruments
		WHERE id = ? AND enabled = 1
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var definition string
	var stored domain.StoredInstrument

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&definition, &stored.CreatedAt, &stored.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(definition), &stored.Instrument); err != nil {
		return nil, fmt.Errorf("failed to parse instrument %s: %w", id, err)
	}

	return &stored, nil
}

// ListInstruments returns the latest enabled version of every stored instrument, ordered by id.
func (r *SQLRepository) ListInstruments(ctx context.Context) ([]*domain.StoredInstrument, error) {
	query := `
		SELECT id, definition, created_at, updated_at
		FROM instruments
		WHERE enabled = 1
		ORDER BY id, updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []*domain.StoredInstrument
	seen := make(map[string]bool)
	for rows.Next() {
		var id, definition string
		var stored domain.StoredInstrument

		if err := rows.Scan(&id, &definition, &stored.CreatedAt, &stored.UpdatedAt); err != nil {
			return nil, err
		}

		// Rows are newest first within an id.
		if seen[id] {
			continue
		}
		seen[id] = true

		if err := json.Unmarshal([]byte(definition), &stored.Instrument); err != nil {
			return nil, fmt.Errorf("failed to parse instrument %s: %w", id, err)
		}
		instruments = append(instruments, &stored)
	}

	return instruments, rows.Err()
}

// DeleteInstrument soft-deletes every version of an instrument by setting enabled = 0.
func (r *SQLRepository) DeleteInstrument(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: instrument id is required", ErrInvalidInput)
	}

	query := `
		UPDATE instruments
		SET enabled = 0, updated_at = ?
		WHERE id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
