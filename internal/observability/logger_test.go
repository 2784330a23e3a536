// File: internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/fusion-pilot/internal/config"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer.
type syncBuffer struct {
	bytes.Buffer
}

func (b *syncBuffer) Sync() error { return nil }

func testLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "fusion-pilot-test",
	}
}

func TestInitializeWritesToConsole(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(testLoggerConfig(), zapcore.Lock(buf))

	logger := GetLogger()
	logger.Info("hello from the loop", zap.String("component", "runner"))

	output := buf.String()
	assert.Contains(t, output, "hello from the loop")
	assert.Contains(t, output, "fusion-pilot-test")
	assert.Contains(t, output, "runner")
}

func TestInitializeRespectsLevel(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	cfg := testLoggerConfig()
	cfg.Level = "warn"
	buf := &syncBuffer{}
	Initialize(cfg, zapcore.Lock(buf))

	GetLogger().Info("should be filtered")
	GetLogger().Warn("should appear")

	output := buf.String()
	assert.NotContains(t, output, "should be filtered")
	assert.Contains(t, output, "should appear")
}

func TestInitializeInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	cfg := testLoggerConfig()
	cfg.Level = "extremely-verbose"
	buf := &syncBuffer{}
	Initialize(cfg, zapcore.Lock(buf))

	GetLogger().Debug("debug hidden at info")
	GetLogger().Info("info visible")

	output := buf.String()
	assert.NotContains(t, output, "debug hidden at info")
	assert.Contains(t, output, "info visible")
}

func TestInitializeOnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &syncBuffer{}
	second := &syncBuffer{}
	Initialize(testLoggerConfig(), zapcore.Lock(first))
	Initialize(testLoggerConfig(), zapcore.Lock(second))

	GetLogger().Info("single initialization")
	assert.Contains(t, first.String(), "single initialization")
	assert.Empty(t, second.String())
}

func TestFileCoreWritesJSON(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logFile := filepath.Join(t.TempDir(), "pilot.log")
	cfg := testLoggerConfig()
	cfg.LogFile = logFile
	cfg.MaxSize = 1

	buf := &syncBuffer{}
	Initialize(cfg, zapcore.Lock(buf))
	GetLogger().Info("file sink check")
	require.NoError(t, GetLogger().Sync())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `"msg":"file sink check"`)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(content), "{"))
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
}
