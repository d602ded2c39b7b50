package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevels(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.Trace("trace message")
	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")
	log.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "trace message")
	assert.NotContains(t, out, "debug message")
	assert.Contains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestTraceLevelName(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelTrace, time.UTC)

	log.Trace("very verbose")

	assert.Contains(t, buf.String(), "level=TRACE")
	assert.NotContains(t, buf.String(), "time=", "console output omits timestamps")
}

func TestFieldsAndModules(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).
		Module("playback").
		Module("ring").
		With(String("stream_id", "abc"))

	log.Info("pushed",
		Int("slot", 3),
		Uint64("completed", 42),
		Float64("ratio", 0.123456),
		Bool("muted", false),
		Duration("elapsed", 1500*time.Millisecond))

	out := buf.String()
	assert.Contains(t, out, "module=playback.ring")
	assert.Contains(t, out, "stream_id=abc")
	assert.Contains(t, out, "slot=3")
	assert.Contains(t, out, "completed=42")
	assert.Contains(t, out, "ratio=0.123")
	assert.Contains(t, out, "muted=false")
	assert.Contains(t, out, "elapsed=1.5s")
}

func TestWithDoesNotMutateParent(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	parent := NewSlogLogger(buf, LogLevelInfo, time.UTC)
	_ = parent.With(String("child_only", "yes"))

	parent.Info("from parent")
	assert.NotContains(t, buf.String(), "child_only")
}

func TestErrorField(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "error", Error(nil).Key)
	assert.Nil(t, Error(nil).Value)
	assert.Equal(t, os.ErrClosed.Error(), Error(os.ErrClosed).Value)
}

func TestLoggerWithContext(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.WithContext(context.Background()).Info("no trace")
	assert.NotContains(t, buf.String(), "trace_id")

	ctx := WithTraceID(context.Background(), "trace-123")
	log.WithContext(ctx).Info("with trace")
	assert.Contains(t, buf.String(), "trace_id=trace-123")
}

func TestLogExplicitLevelRespectsThreshold(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelWarn, time.UTC)

	log.Log(LogLevelInfo, "dropped")
	log.Log(LogLevelError, "kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestCentralLoggerModuleLevels(t *testing.T) {
	t.Parallel()

	console := &bytes.Buffer{}
	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: true, Level: "trace"},
		ModuleLevels: map[string]string{"dac": "debug"},
	}, console)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })

	cl.Module("playback").Debug("playback debug")
	cl.Module("dac").Debug("dac debug")

	out := console.String()
	assert.NotContains(t, out, "playback debug")
	assert.Contains(t, out, "dac debug")

	cl.SetModuleLevel("playback", LogLevelDebug)
	cl.Module("playback").Debug("playback debug now")
	assert.Contains(t, console.String(), "playback debug now")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "test.log")
	cl, err := newCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "info"},
	}, &bytes.Buffer{})
	require.NoError(t, err)

	cl.Module("source").Info("opened file", String("format", "wav"))
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record))
	assert.Equal(t, "opened file", record["msg"])
	assert.Equal(t, "source", record["module"])
	assert.Equal(t, "wav", record["format"])
	assert.Equal(t, "INFO", record["level"])
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := newCentralLogger(&LoggingConfig{Timezone: "Not/AZone"}, &bytes.Buffer{})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestParseSlogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, traceLevelValue, parseSlogLevel(LogLevelTrace))
	assert.Equal(t, parseLogLevel("info"), parseSlogLevel("bogus"))
	assert.Less(t, parseSlogLevel(LogLevelDebug), parseSlogLevel(LogLevelWarn))
}

func TestRateLimitedLogger(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewRateLimited(NewSlogLogger(buf, LogLevelInfo, time.UTC), time.Hour, 2)

	for range 10 {
		log.Warn("underrun")
	}

	assert.Equal(t, 2, strings.Count(buf.String(), "underrun"))
}

func TestRateLimitedLoggerReportsSuppressed(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewRateLimited(NewSlogLogger(buf, LogLevelInfo, time.UTC), 20*time.Millisecond, 1)

	log.Warn("first")
	log.Warn("dropped")
	log.Warn("dropped")

	assert.Eventually(t, func() bool {
		log.Warn("later")
		return strings.Contains(buf.String(), "later")
	}, time.Second, 5*time.Millisecond)

	assert.Contains(t, buf.String(), "suppressed=")
}
