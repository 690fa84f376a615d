package projectroot_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/projectroot"
)

func TestFindWalksUpToMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, projectroot.MarkerFile), nil, 0o644))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := projectroot.Find(nested)
	require.NoError(t, err)
	require.Equal(t, root, found)
}

func TestFindFailsWithNoMarker(t *testing.T) {
	dir := t.TempDir()
	_, err := projectroot.Find(dir)
	require.Error(t, err)
}

func TestFindHonorsEnvOverride(t *testing.T) {
	root := t.TempDir()
	t.Setenv("FORGE_ROOT", root)

	found, err := projectroot.Find(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, root, found)
}

func TestOutDirLayout(t *testing.T) {
	root := "/proj"
	require.Equal(t, "/proj/forge-out", projectroot.OutDir(root))
	require.Equal(t, "/proj/forge-out/cas", projectroot.CasDir(root))
	require.Equal(t, "/proj/forge-out/cache.json", projectroot.CacheIndexPath(root))
}
