package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	testDir := filepath.Join(t.TempDir(), "test", "nested", "dir")
	require.NoError(t, EnsureDir(testDir))
	info, err := os.Stat(testDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, FileExists(testDir))
}

func TestFileExists(t *testing.T) {
	assert.False(t, FileExists("/non/existent/file"))
}

func TestRequireFile_Skips(t *testing.T) {
	skipped := t.Run("missing", func(t *testing.T) {
		RequireFile(t, "/non/existent/model.onnx")
		t.Error("RequireFile did not skip")
	})
	assert.True(t, skipped)
}

func TestRequireBinary_Skips(t *testing.T) {
	skipped := t.Run("missing", func(t *testing.T) {
		RequireBinary(t, "framescan-no-such-binary")
		t.Error("RequireBinary did not skip")
	})
	assert.True(t, skipped)
}
