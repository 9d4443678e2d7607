package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""), "nivel vacío usa info")
	assert.Equal(t, zerolog.InfoLevel, parseLevel("verbose"), "nivel desconocido usa info")
}

func TestNew_JSONConCampos(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Env: "production", Level: "debug", Service: "verifactu-dispatcher", Output: &buf})

	l.Component("dispatcher").Company("B12345674").Debug().Str("event_id", "ev-1").Msg("evento enviado")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "en producción la salida es JSON")
	assert.Equal(t, "verifactu-dispatcher", line["service"])
	assert.Equal(t, "dispatcher", line["component"])
	assert.Equal(t, "B12345674", line["company_id"])
	assert.Equal(t, "ev-1", line["event_id"])
	assert.Equal(t, "debug", line["level"])
}

func TestNew_RespetaNivel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})

	l.Info().Msg("descartado")
	assert.Zero(t, buf.Len(), "info no se escribe con nivel warn")

	l.Warn().Msg("escrito")
	assert.Contains(t, buf.String(), "escrito")
}

func TestNewNop_NoEscribe(t *testing.T) {
	l := NewNop()
	assert.Equal(t, zerolog.Disabled, l.Zerolog().GetLevel())
	l.Component("dispatcher").Info().Msg("no debe fallar")
}
