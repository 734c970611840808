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

type testConfig struct {
	level, output, file string
}

func (c testConfig) GetLevel() string  { return c.level }
func (c testConfig) GetOutput() string { return c.output }
func (c testConfig) GetFile() string   { return c.file }

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLogLevel("warning"))
	assert.Equal(t, ERROR, ParseLogLevel("error"))
	assert.Equal(t, INFO, ParseLogLevel("verbose"))
}

func TestGlobalFunctionsUseDefaultLogger(t *testing.T) {
	prev := current()
	t.Cleanup(func() { SetDefaultLogger(prev) })

	core, logs := observer.New(zapcore.InfoLevel)
	SetDefaultLogger(NewWithCore(core))

	Debug("hidden %d", 1)
	Info("escrow %d opened", 7)
	With(zap.String("component", "journal")).Warn("stale snapshot")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "escrow 7 opened", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "journal", entries[1].ContextMap()["component"])
}

func TestSetupFileOutput(t *testing.T) {
	prev := current()
	t.Cleanup(func() { SetDefaultLogger(prev) })

	file := filepath.Join(t.TempDir(), "tgs.log")
	require.NoError(t, Setup(testConfig{level: "info", output: "file", file: file}))
	Info("written to %s", "file")
	Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"written to file"`)
	assert.Contains(t, string(data), `"level":"INFO"`)
}

func TestSetupFileOutputRequiresPath(t *testing.T) {
	assert.Error(t, Setup(testConfig{output: "file"}))
}
