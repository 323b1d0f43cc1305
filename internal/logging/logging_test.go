package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSlogBridge(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlog(New(Config{Level: "info", Component: "creditsd"}, &buf))

	logger.With("engine", "credits").WithGroup("billing").Info("billing event applied",
		"kind", "invoice_paid",
		"credits", int64(200),
		"took", 5*time.Millisecond,
		"error", errors.New("boom"),
	)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "billing event applied", line["message"])
	assert.Equal(t, "creditsd", line["component"])
	assert.Equal(t, "credits", line["engine"])
	assert.Equal(t, "invoice_paid", line["billing.kind"])
	assert.EqualValues(t, 200, line["billing.credits"])
	assert.Equal(t, "boom", line["billing.error"])
}

func TestSlogBridgeRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlog(New(Config{Level: "warn"}, &buf))

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept", slog.Group("req", slog.String("id", "r1")))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "r1", line["req.id"])
}
