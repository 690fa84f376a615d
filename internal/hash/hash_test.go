package hash_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/hash"
)

func TestFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	a, err := hash.File(path)
	require.NoError(t, err)
	b, err := hash.File(path)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.False(t, a.IsZero())
}

func TestFileContentSensitive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")

	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))
	a, err := hash.File(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("hi\n"), 0o644))
	b, err := hash.File(path)
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestRecordOrderSensitive(t *testing.T) {
	r1 := hash.Record(hash.Field("a"), hash.Field("bc"))
	r2 := hash.Record(hash.Field("ab"), hash.Field("c"))
	require.NotEqual(t, r1, r2, "length-prefixing must prevent field-boundary ambiguity")
}

func TestSumRoundTrip(t *testing.T) {
	s := hash.Bytes([]byte("payload"))
	parsed, err := hash.ParseSum(s.String())
	require.NoError(t, err)
	require.Equal(t, s, parsed)
}

func TestParseSumRejectsBadLength(t *testing.T) {
	_, err := hash.ParseSum("deadbeef")
	require.Error(t, err)
}
