package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerFormats(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		newLogger(&buf, "json", "info").Info("hello", "user", "u1")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "hello", line["msg"])
		assert.Equal(t, "u1", line["user"])
	})

	t.Run("Text", func(t *testing.T) {
		var buf bytes.Buffer
		newLogger(&buf, "text", "info").Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("LevelFilters", func(t *testing.T) {
		var buf bytes.Buffer
		newLogger(&buf, "text", "warn").Info("hidden")
		assert.Empty(t, buf.String())
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 8))
	assert.Equal(t, "abcdefgh...", Truncate("abcdefghijk", 8))
}
