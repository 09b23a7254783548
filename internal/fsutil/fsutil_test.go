package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "state.json")

	require.NoError(t, AtomicWriteFile(p, []byte(`{"a":1}`), 0600))
	require.NoError(t, AtomicWriteFile(p, []byte(`{"a":2}`), 0600))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	// no temporary files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAtomicWriteFileMissingDir(t *testing.T) {
	err := AtomicWriteFile(filepath.Join(t.TempDir(), "missing", "state.json"), []byte(`{}`), 0600)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIsJSONFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte(`x`), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "c.json"), 0700))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	got := map[string]bool{}
	for _, e := range entries {
		ok, err := IsJSONFile(e)
		require.NoError(t, err)
		got[e.Name()] = ok
	}
	assert.Equal(t, map[string]bool{"a.json": true, "b.txt": false, "c.json": false}, got)
}
