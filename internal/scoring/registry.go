package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/opensource-clinical/bedside/internal/domain"
)

// Registry holds the published compiled tables, keyed by instrument id.
// Published tables are never mutated; Load and Reload replace them.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*entry
	logger *slog.Logger
}

type entry struct {
	table  *Table
	source string
}

// Entry is an instrument to publish together with where it came from.
type Entry struct {
	Instrument *domain.Instrument
	Source     string
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tables: make(map[string]*entry),
		logger: logger,
	}
}

// Validate compiles an instrument without publishing it.
func (r *Registry) Validate(inst *domain.Instrument) error {
	_, err := Compile(inst)
	return err
}

// Load compiles and publishes an instrument, replacing any table with the same id.
func (r *Registry) Load(inst *domain.Instrument, source string) error {
	table, err := Compile(inst)
	if err != nil {
		return err
	}
	r.lint(table)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[table.ID()] = &entry{table: table, source: source}

	return nil
}

// Reload compiles every entry and, only if all succeed, swaps them in as the
// complete set of published tables. Later entries override earlier ones with
// the same id.
func (r *Registry) Reload(entries []Entry) error {
	next := make(map[string]*entry, len(entries))
	for _, e := range entries {
		table, err := Compile(e.Instrument)
		if err != nil {
			return err
		}
		r.lint(table)
		next[table.ID()] = &entry{table: table, source: e.Source}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = next

	return nil
}

// Get returns the published table for id.
func (r *Registry) Get(id string) (*Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownInstrument, id)
	}
	return e.table, nil
}

// Source returns where the instrument published under id came from.
func (r *Registry) Source(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tables[id]
	if !ok {
		return "", false
	}
	return e.source, true
}

// List returns catalog summaries sorted by id.
func (r *Registry) List() []domain.InstrumentSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.InstrumentSummary, 0, len(r.tables))
	for _, e := range r.tables {
		out = append(out, e.table.inst.Summary(e.source))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of published tables.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

// Evaluate scores inputs against the published table for id.
func (r *Registry) Evaluate(ctx context.Context, id string, inputs map[string]any) (*domain.Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return table.Evaluate(inputs)
}

// Close unpublishes every table.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables = make(map[string]*entry)
	return nil
}

func (r *Registry) lint(t *Table) {
	for _, w := range t.inst.Lint() {
		r.logger.Warn("rule table warning",
			"instrument_id", t.inst.ID,
			"version", t.inst.Version,
			"warning", w,
		)
	}
}
