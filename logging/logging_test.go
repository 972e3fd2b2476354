package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Should_Write_Json_To_File_Above_Level(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flstore.log")
	l, err := New(Config{Level: "warn", Format: "json", OutputFile: path})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept", zap.Int("n", 3))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	entry := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "flstore", entry["service"])
	assert.EqualValues(t, 3, entry["n"])
}

func TestNew_Should_Default_To_Info_On_Unknown_Level(t *testing.T) {
	l, err := New(Config{Level: "loud", OutputFile: "stderr"})
	require.NoError(t, err)

	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}

func TestNew_Should_Fail_For_Unwritable_File(t *testing.T) {
	_, err := New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}
