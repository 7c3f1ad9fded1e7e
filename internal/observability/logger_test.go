package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/stampede/internal/config"
)

func testLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "stampede",
	}
}

func TestInitialize_JSONConsole(t *testing.T) {
	defer ResetForTest()

	var buf bytes.Buffer
	Initialize(testLoggerConfig(), zapcore.AddSync(&buf))

	GetLogger().Info("agent started", zap.String("agent", "alpha"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "agent started", entry["msg"])
	assert.Equal(t, "alpha", entry["agent"])
	assert.Equal(t, "stampede", entry["logger"])
}

func TestInitialize_Once(t *testing.T) {
	defer ResetForTest()

	var first, second bytes.Buffer
	Initialize(testLoggerConfig(), zapcore.AddSync(&first))
	Initialize(testLoggerConfig(), zapcore.AddSync(&second))

	GetLogger().Info("only once")
	assert.Contains(t, first.String(), "only once")
	assert.Empty(t, second.String(), "second Initialize must be a no-op")
}

func TestInitialize_BadLevelDefaultsToInfo(t *testing.T) {
	defer ResetForTest()

	cfg := testLoggerConfig()
	cfg.Level = "verbose"

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))

	GetLogger().Debug("too quiet")
	GetLogger().Info("loud enough")

	out := buf.String()
	assert.NotContains(t, out, "too quiet")
	assert.Contains(t, out, "loud enough")
}

func TestInitialize_ConsoleFormatIsColorized(t *testing.T) {
	defer ResetForTest()

	cfg := testLoggerConfig()
	cfg.Format = "console"

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))

	GetLogger().Warn("watch out")

	out := buf.String()
	assert.Contains(t, out, colorYellow)
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "stampede.")
}

func TestInitialize_FileCore(t *testing.T) {
	defer ResetForTest()

	cfg := testLoggerConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "stampede.log")

	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))

	GetLogger().Info("persisted entry")
	Sync()

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "persisted entry")
	assert.Contains(t, buf.String(), "persisted entry", "console core still receives the entry")
}

func TestGetLogger_FallbackBeforeInitialize(t *testing.T) {
	ResetForTest()

	logger := GetLogger()
	require.NotNil(t, logger)

	// Sync with no global logger is a quiet no-op.
	Sync()
}
