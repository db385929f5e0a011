package tickfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replica/internal/core/wal"
)

func TestWriteRewritesSingleLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-tick.txt")
	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, ok, err := f.Read()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Write(123456))
	require.NoError(t, f.Write(99))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "99;", string(data))

	tick, ok, err := f.Read()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, wal.Tick(99), tick)
}

func TestReadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-tick.txt")
	require.NoError(t, os.WriteFile(path, []byte("777;\n"), 0o644))

	f, err := Open(path)
	require.NoError(t, err)
	defer f.Close()

	tick, ok, err := f.Read()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, wal.Tick(777), tick)
}
