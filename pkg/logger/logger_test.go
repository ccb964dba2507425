package logger

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferLogger(level LogLevel, json bool) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(&Config{Level: level, Output: &buf, JSON: json, TimeFormat: "15:04:05"}), &buf
}

func TestFromContext(t *testing.T) {
	t.Run("Should return the logger stored in the context", func(t *testing.T) {
		expected := NewForTests()
		ctx := ContextWithLogger(t.Context(), expected)
		assert.Equal(t, expected, FromContext(ctx))
	})

	t.Run("Should fall back to the default logger", func(t *testing.T) {
		require.NotNil(t, FromContext(t.Context()))
	})

	t.Run("Should ignore values of the wrong type", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, "not a logger")
		require.NotNil(t, FromContext(ctx))
	})

	t.Run("Should ignore a nil logger", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, (Logger)(nil))
		require.NotNil(t, FromContext(ctx))
	})
}

func TestParseLevel(t *testing.T) {
	t.Run("Should map known levels and default to info", func(t *testing.T) {
		cases := map[string]LogLevel{
			"debug":    DebugLevel,
			" WARN ":   WarnLevel,
			"error":    ErrorLevel,
			"disabled": DisabledLevel,
			"verbose":  InfoLevel,
			"":         InfoLevel,
		}
		for in, want := range cases {
			assert.Equal(t, want, ParseLevel(in), "input %q", in)
		}
	})
}

func TestLogLevel_ToCharmlogLevel(t *testing.T) {
	t.Run("Should translate levels to charm levels", func(t *testing.T) {
		assert.Equal(t, -4, int(DebugLevel.ToCharmlogLevel()))
		assert.Equal(t, 0, int(InfoLevel.ToCharmlogLevel()))
		assert.Equal(t, 4, int(WarnLevel.ToCharmlogLevel()))
		assert.Equal(t, 8, int(ErrorLevel.ToCharmlogLevel()))
		assert.Equal(t, 1000, int(DisabledLevel.ToCharmlogLevel()))
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Should write text output", func(t *testing.T) {
		log, buf := bufferLogger(InfoLevel, false)
		log.Info("unit generated", "unit_index", 3)
		assert.Contains(t, buf.String(), "unit generated")
		assert.Contains(t, buf.String(), "unit_index")
	})

	t.Run("Should write JSON output", func(t *testing.T) {
		log, buf := bufferLogger(InfoLevel, true)
		log.Info("task finished")
		assert.Contains(t, buf.String(), `"msg":"task finished"`)
	})

	t.Run("Should carry fields added with With", func(t *testing.T) {
		log, buf := bufferLogger(InfoLevel, false)
		log.With("task_id", "abc").Warn("slow provider")
		assert.Contains(t, buf.String(), "task_id")
		assert.Contains(t, buf.String(), "abc")
	})

	t.Run("Should filter below the configured level", func(t *testing.T) {
		log, buf := bufferLogger(WarnLevel, false)
		log.Debug("debug message")
		log.Info("info message")
		log.Error("error message")
		assert.NotContains(t, buf.String(), "debug message")
		assert.NotContains(t, buf.String(), "info message")
		assert.Contains(t, buf.String(), "error message")
	})

	t.Run("Should emit nothing when disabled", func(t *testing.T) {
		log, buf := bufferLogger(DisabledLevel, false)
		log.Error("error message")
		assert.Empty(t, buf.String())
	})
}

func TestConfigDefaults(t *testing.T) {
	t.Run("Should provide default and test configurations", func(t *testing.T) {
		def := DefaultConfig()
		assert.Equal(t, InfoLevel, def.Level)
		assert.Equal(t, os.Stderr, def.Output)
		tc := TestConfig()
		assert.Equal(t, DisabledLevel, tc.Level)
		assert.Equal(t, io.Discard, tc.Output)
	})

	t.Run("Should detect the test binary", func(t *testing.T) {
		assert.True(t, IsTestEnvironment())
	})
}
