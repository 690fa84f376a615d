package cacheindex_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/cacheindex"
	"github.com/forgebuild/forge/internal/hash"
)

func TestLoadMissingFileYieldsEmptyIndex(t *testing.T) {
	dir := t.TempDir()
	idx, discarded, err := cacheindex.Load(filepath.Join(dir, "cache.json"))
	require.NoError(t, err)
	require.False(t, discarded)
	require.Equal(t, 0, idx.Len())
}

func TestInsertLookupFlushRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	idx, _, err := cacheindex.Load(path)
	require.NoError(t, err)

	sum := hash.Bytes([]byte("fingerprint"))
	manifest := cacheindex.OutputManifest{
		Outputs:  map[string]string{"out.o": hash.Bytes([]byte("content")).String()},
		ExitCode: 0,
	}
	idx.Insert(sum, manifest)
	require.NoError(t, idx.Flush())

	reloaded, discarded, err := cacheindex.Load(path)
	require.NoError(t, err)
	require.False(t, discarded)

	got, ok := reloaded.Lookup(sum)
	require.True(t, ok)
	require.Equal(t, manifest.Outputs, got.Outputs)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	idx, _, err := cacheindex.Load(filepath.Join(dir, "cache.json"))
	require.NoError(t, err)

	sum := hash.Bytes([]byte("x"))
	idx.Insert(sum, cacheindex.OutputManifest{})
	idx.Invalidate(sum)

	_, ok := idx.Lookup(sum)
	require.False(t, ok)
}

func TestUnknownSchemaVersionDiscarded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 999, "entries": {}}`), 0o644))

	idx, discarded, err := cacheindex.Load(path)
	require.NoError(t, err)
	require.True(t, discarded)
	require.Equal(t, 0, idx.Len())
}
