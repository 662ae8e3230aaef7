package lexgo

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.NewJSONHandler(&buf, nil))

	l.WithIndex("products").WithSegment("_3").WithGeneration(7).Info("flushed", "docs", 12)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "flushed", rec["msg"])
	assert.Equal(t, "products", rec["index"])
	assert.Equal(t, "_3", rec["segment"])
	assert.Equal(t, 7.0, rec["gen"])
	assert.Equal(t, 12.0, rec["docs"])
}

func TestNewLoggerDefaultHandler(t *testing.T) {
	l := NewLogger(nil)
	require.NotNil(t, l.Logger)
	assert.True(t, l.Enabled(t.Context(), slog.LevelInfo))
	assert.False(t, l.Enabled(t.Context(), slog.LevelDebug))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestWithLogLevel(t *testing.T) {
	o := applyOptions([]Option{WithLogLevel(slog.LevelDebug)})
	assert.True(t, o.logger.Enabled(t.Context(), slog.LevelDebug))
}
