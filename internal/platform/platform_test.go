package platform_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/iswctl/internal/errors"
	"codeberg.org/mutker/iswctl/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBoardName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board_name")
	require.NoError(t, os.WriteFile(path, []byte("MS-16V1\n"), 0o600))

	board, err := platform.ReadBoardName(path)
	require.NoError(t, err)
	assert.Equal(t, "MS-16V1", board)
}

func TestReadBoardNameMissing(t *testing.T) {
	_, err := platform.ReadBoardName(filepath.Join(t.TempDir(), "board_name"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrHardwareUnavailable))
}

func TestIsPrivileged(t *testing.T) {
	assert.Equal(t, os.Geteuid() == 0, platform.IsPrivileged())
}
