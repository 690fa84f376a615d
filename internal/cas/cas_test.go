package cas_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/cas"
	"github.com/forgebuild/forge/internal/hash"
)

func TestInsertAndContains(t *testing.T) {
	dir := t.TempDir()
	store, err := cas.Open(filepath.Join(dir, "cas"))
	require.NoError(t, err)

	srcPath := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("payload"), 0o644))

	sum, err := store.InsertFile(srcPath)
	require.NoError(t, err)

	ok, err := store.Contains(sum)
	require.NoError(t, err)
	require.True(t, ok)

	want := hash.Bytes([]byte("payload"))
	require.Equal(t, want, sum)
}

func TestInsertIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := cas.Open(filepath.Join(dir, "cas"))
	require.NoError(t, err)

	srcPath := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("payload"), 0o644))

	sum1, err := store.InsertFile(srcPath)
	require.NoError(t, err)
	sum2, err := store.InsertFile(srcPath)
	require.NoError(t, err)
	require.Equal(t, sum1, sum2)
}

func TestMaterializeHardlinksOrCopies(t *testing.T) {
	dir := t.TempDir()
	store, err := cas.Open(filepath.Join(dir, "cas"))
	require.NoError(t, err)

	srcPath := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("artifact bytes"), 0o644))
	sum, err := store.InsertFile(srcPath)
	require.NoError(t, err)

	destPath := filepath.Join(dir, "out", "artifact.bin")
	require.NoError(t, store.Materialize(sum, destPath))

	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	require.Equal(t, "artifact bytes", string(got))
}

func TestVerifyDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := cas.Open(filepath.Join(dir, "cas"))
	require.NoError(t, err)

	srcPath := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("original"), 0o644))
	sum, err := store.InsertFile(srcPath)
	require.NoError(t, err)
	require.NoError(t, store.Verify(sum))

	require.NoError(t, os.WriteFile(store.Path(sum), []byte("tampered"), 0o644))
	require.Error(t, store.Verify(sum))
}

func TestGarbageCollectRemovesUnreferenced(t *testing.T) {
	dir := t.TempDir()
	store, err := cas.Open(filepath.Join(dir, "cas"))
	require.NoError(t, err)

	keepPath := filepath.Join(dir, "keep.txt")
	dropPath := filepath.Join(dir, "drop.txt")
	require.NoError(t, os.WriteFile(keepPath, []byte("keep"), 0o644))
	require.NoError(t, os.WriteFile(dropPath, []byte("drop"), 0o644))

	keepSum, err := store.InsertFile(keepPath)
	require.NoError(t, err)
	dropSum, err := store.InsertFile(dropPath)
	require.NoError(t, err)

	removed, err := store.GarbageCollect(map[hash.Sum]bool{keepSum: true})
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	ok, err := store.Contains(keepSum)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Contains(dropSum)
	require.NoError(t, err)
	require.False(t, ok)
}
