// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/threadweaver/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func bufferSink() (*bytes.Buffer, zapcore.WriteSyncer) {
	var buf bytes.Buffer
	return &buf, zapcore.AddSync(&buf)
}

func TestInitialize(t *testing.T) {
	t.Run("console logger colorizes levels and names components", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf, sink := bufferSink()

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "weaver",
			Colors:      config.ColorConfig{Info: "green"},
		}, sink)
		GetLogger().Named("scheduler").Info("Item posted.")

		out := buf.String()
		assert.Contains(t, out, colorMap["green"]+"INFO"+colorReset)
		assert.Contains(t, out, "weaver.scheduler.")
		assert.Contains(t, out, "Item posted.")
	})

	t.Run("json logger emits parseable entries", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf, sink := bufferSink()

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "weaver"}, sink)
		GetLogger().Info("Session started.", zap.String("identity", "p-1"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "Session started.", entry["msg"])
		assert.Equal(t, "p-1", entry["identity"])
		assert.Equal(t, "weaver", entry["logger"])
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		buf, sink := bufferSink()

		Initialize(config.LoggerConfig{Level: "chatty", Format: "json"}, sink)
		GetLogger().Debug("hidden")
		GetLogger().Info("visible")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "visible")
	})

	t.Run("second initialization is ignored", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		first, sinkA := bufferSink()
		second, sinkB := bufferSink()

		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, sinkA)
		Initialize(config.LoggerConfig{Level: "info", Format: "json"}, sinkB)
		GetLogger().Info("once")

		assert.Contains(t, first.String(), "once")
		assert.Empty(t, second.String())
	})

	t.Run("file tee writes json and records its path", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		_, sink := bufferSink()
		path := filepath.Join(t.TempDir(), "run.log")

		Initialize(config.LoggerConfig{Level: "info", Format: "console", LogFile: path, MaxSize: 1}, sink)
		GetLogger().Warn("Parent not located.")
		Sync()

		assert.Equal(t, path, LogFile())
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		line := strings.TrimSpace(string(data))
		assert.True(t, strings.HasPrefix(line, "{"), "file output should be JSON, got %q", line)
		assert.Contains(t, line, "Parent not located.")
	})
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Empty(t, LogFile())
}
