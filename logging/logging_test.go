package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Logger = (*SlogAdapter)(nil)
	_ Logger = (*ZerologAdapter)(nil)
	_ Logger = NoOpLogger{}
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"debug":   LogLevelDebug,
		" INFO ":  LogLevelInfo,
		"":        LogLevelInfo,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNew_SlogJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: LogLevelInfo, Output: &buf, Component: "test"})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("orchestrator.process.start", "session", "s1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "orchestrator.process.start", entry["msg"])
	assert.Equal(t, "s1", entry["session"])
	assert.Equal(t, "test", entry["component"])
}

func TestNew_Zerolog(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Backend: "zerolog", Level: LogLevelWarn, Output: &buf})
	require.NoError(t, err)

	l.Info("hidden")
	l.Error("tool.invoke.error", "tool", "create_ticket", "error", errors.New("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "tool.invoke.error", entry["message"])
	assert.Equal(t, "create_ticket", entry["tool"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "error", entry["level"])
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "log4j"})
	assert.Error(t, err)

	l, err := New(Config{Backend: "none"})
	require.NoError(t, err)
	assert.IsType(t, NoOpLogger{}, l)
}

type captureLogger struct {
	NoOpLogger
	args []any
}

func (c *captureLogger) Info(_ string, args ...any) { c.args = args }

func TestWith(t *testing.T) {
	t.Run("custom logger is wrapped", func(t *testing.T) {
		c := &captureLogger{}
		With(c, "session", "s1").Info("msg", "turn", 2)
		assert.Equal(t, []any{"session", "s1", "turn", 2}, c.args)
	})

	t.Run("zerolog keeps fields", func(t *testing.T) {
		var buf bytes.Buffer
		z := NewZerologLogger(Config{Level: LogLevelInfo, Output: &buf})
		With(z, "session", "s1").Info("msg")
		assert.Contains(t, buf.String(), `"session":"s1"`)
	})

	t.Run("nil becomes no-op", func(t *testing.T) {
		assert.Equal(t, NoOpLogger{}, With(nil, "k", "v"))
	})
}
