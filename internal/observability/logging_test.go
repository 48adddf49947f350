package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel(""))
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("loud"))
}

func TestNewLogger_JSONFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Subsystem(newLogger(&buf, "liftoffd", "warn", ""), "server")

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Uint64("sale_id", 7).Msg("kept")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "liftoffd", line["component"])
	assert.Equal(t, "server", line["subsystem"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, float64(7), line["sale_id"])
	assert.Contains(t, line, "time")
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "migrate", "", "console")
	logger.Info().Msg("applied")
	assert.Contains(t, buf.String(), "applied")
	assert.False(t, json.Valid(buf.Bytes()))
}
