package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-clinical/bedside/internal/domain"
	"github.com/opensource-clinical/bedside/internal/instruments"
	"github.com/opensource-clinical/bedside/internal/repository"
	"github.com/opensource-clinical/bedside/internal/scoring"
)

func newRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "catalog.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestLoaderBuiltins(t *testing.T) {
	loader := NewLoader(domain.InstrumentsConfig{}, nil, nil)

	entries, err := loader.Entries(context.Background())
	require.NoError(t, err)

	ids, err := instruments.List()
	require.NoError(t, err)
	require.Len(t, entries, len(ids))
	for _, e := range entries {
		assert.Equal(t, domain.SourceBuiltin, e.Source)
	}
}

func TestLoaderBuiltinSubset(t *testing.T) {
	loader := NewLoader(domain.InstrumentsConfig{Builtin: []string{"rams"}}, nil, nil)

	entries, err := loader.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rams", entries[0].Instrument.ID)
}

func TestLoaderUnknownBuiltin(t *testing.T) {
	loader := NewLoader(domain.InstrumentsConfig{Builtin: []string{"nope"}}, nil, nil)

	_, err := loader.Entries(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnknownInstrument)
}

func TestLoaderDirectoryAndRepository(t *testing.T) {
	ctx := context.Background()

	ford, err := instruments.LoadBuiltin("ford")
	require.NoError(t, err)

	dir := t.TempDir()
	fileInst := ford.Clone()
	fileInst.ID = "ford_site"
	data, err := instruments.Marshal(fileInst)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ford_site.yaml"), data, 0o644))

	repo := newRepo(t)
	custom := ford.Clone()
	custom.Version = "9.9.9"
	require.NoError(t, repo.SaveInstrument(ctx, custom))

	loader := NewLoader(domain.InstrumentsConfig{Builtin: []string{"ford"}, Dir: dir}, repo, nil)
	reg := scoring.NewRegistry(nil)
	require.NoError(t, loader.Reload(ctx, reg))

	assert.Equal(t, 2, reg.Count())

	src, ok := reg.Source("ford")
	require.True(t, ok)
	assert.Equal(t, domain.SourceCustom, src, "stored instrument overrides the built-in")

	table, err := reg.Get("ford")
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", table.Version())

	src, ok = reg.Source("ford_site")
	require.True(t, ok)
	assert.Equal(t, domain.SourceFile, src)
}

func TestLoaderReloadKeepsTablesOnFailure(t *testing.T) {
	ctx := context.Background()
	reg := scoring.NewRegistry(nil)
	require.NoError(t, NewLoader(domain.InstrumentsConfig{}, nil, nil).Reload(ctx, reg))
	before := reg.Count()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("id: [unterminated"), 0o644))

	err := NewLoader(domain.InstrumentsConfig{Dir: dir}, nil, nil).Reload(ctx, reg)
	require.Error(t, err)
	assert.Equal(t, before, reg.Count())
}
