package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "iswctl.pid")

	require.NoError(t, pid.Write(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))

	require.NoError(t, pid.Remove(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, pid.Remove(path), "removing a missing file is not an error")
}

func TestWriteLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iswctl.pid")
	require.NoError(t, pid.Write(path))

	err := pid.Write(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWriteReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iswctl.pid")
	// Above the kernel's pid_max, so never a live process.
	require.NoError(t, os.WriteFile(path, []byte("2147483646\n"), 0o644))

	require.NoError(t, pid.Write(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))
}

func TestWriteCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iswctl.pid")
	require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0o644))

	err := pid.Write(path)
	assert.True(t, errors.HasCode(err, errors.ErrInternal))
}
