package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("chatty"))
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	l := Component("reclaimer")
	l.Info().Int("released", 2).Msg("Sweep done")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "reclaimer", line["component"])
	assert.Equal(t, float64(2), line["released"])
	assert.Equal(t, "Sweep done", line["message"])
}

func TestSlogAdapter(t *testing.T) {
	// GIVEN: A slog logger backed by zerolog
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	sl := NewSlogLogger(zl).With("service", "http").WithGroup("event")

	// WHEN: Logging through slog
	sl.Warn("service restarted", slog.Int("restarts", 3))

	// THEN: The line lands in zerolog with grouped keys
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "http", line["service"])
	assert.Equal(t, float64(3), line["event.restarts"])
	assert.Equal(t, "service restarted", line["message"])
}
