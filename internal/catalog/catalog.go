// Package catalog assembles the set of instruments a node publishes.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-clinical/bedside/internal/domain"
	"github.com/opensource-clinical/bedside/internal/instruments"
	"github.com/opensource-clinical/bedside/internal/scoring"
)

// CacheKey is the cache key of the serialized catalog listing.
const CacheKey = "catalog:list"

// Loader gathers instruments from the embedded built-ins, the configured
// directory and the repository, in that order. Later sources override
// earlier ones with the same id.
type Loader struct {
	cfg    domain.InstrumentsConfig
	repo   domain.Repository
	logger *slog.Logger
}

// NewLoader creates a loader. repo may be nil, in which case no custom
// instruments are loaded.
func NewLoader(cfg domain.InstrumentsConfig, repo domain.Repository, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, repo: repo, logger: logger}
}

// Entries returns every instrument to publish.
func (l *Loader) Entries(ctx context.Context) ([]scoring.Entry, error) {
	builtins, err := instruments.All(l.cfg.Builtin...)
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in instruments: %w", err)
	}

	entries := make([]scoring.Entry, 0, len(builtins))
	for _, inst := range builtins {
		entries = append(entries, scoring.Entry{Instrument: inst, Source: domain.SourceBuiltin})
	}

	if l.cfg.Dir != "" {
		files, err := instruments.LoadDir(l.cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load instrument directory: %w", err)
		}
		for _, inst := range files {
			entries = append(entries, scoring.Entry{Instrument: inst, Source: domain.SourceFile})
		}
	}

	if l.repo != nil {
		stored, err := l.repo.ListInstruments(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list stored instruments: %w", err)
		}
		for _, s := range stored {
			entries = append(entries, scoring.Entry{Instrument: s.Instrument, Source: domain.SourceCustom})
		}
	}

	return entries, nil
}

// Reload rebuilds the registry from every source. On failure the registry
// keeps its current tables.
func (l *Loader) Reload(ctx context.Context, reg *scoring.Registry) error {
	entries, err := l.Entries(ctx)
	if err != nil {
		return err
	}
	if err := reg.Reload(entries); err != nil {
		return fmt.Errorf("failed to reload instruments: %w", err)
	}

	l.logger.Info("instruments loaded",
		"count", reg.Count(),
		"sources", len(entries),
	)
	return nil
}
