package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_KeyValuesAndNames(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := wrap(zap.New(core)).Named("sweep").With("entityType", "posts")

	log.Info("Flushed pending batch", "delivered", 3)
	log.Debug("Enqueued records")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "sweep", entries[0].LoggerName)
	assert.Equal(t, "Flushed pending batch", entries[0].Message)
	assert.Equal(t, map[string]interface{}{"entityType": "posts", "delivered": int64(3)}, entries[0].ContextMap())
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
}

func TestNew_FileOutputHonoursLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoutbatch.log")
	log := New(Config{Level: "warn", Format: "json", Output: path})

	log.Info("dropped")
	log.Warn("kept", "entityType", "posts")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"msg":"kept"`)
	assert.Contains(t, string(data), `"entityType":"posts"`)
}

func TestNew_UnknownLevelMeansInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoutbatch.log")
	log := New(Config{Level: "loud", Output: path})

	log.Debug("hidden")
	log.Info("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestNop(t *testing.T) {
	log := NewNop().Named("x").With("k", "v")
	log.Error("nothing")
	assert.NoError(t, log.Sync())
}
