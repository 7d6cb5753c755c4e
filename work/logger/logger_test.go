package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Warn", WARN},
		{"error", ERROR},
		{"nonsense", INFO},
		{"", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.in))
		})
	}
}

func TestLogger_WritesJSONAboveLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(Config{Level: "warn", Output: buf})

	l.Info("dropped %d", 1)
	assert.Zero(t, buf.Len())

	l.Warn("{logger - test} kept %s", "this")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "{logger - test} kept this", line["message"])
	assert.Equal(t, "embed-proxy", line["service"])
}

func TestLogger_GetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(Config{Level: "debug", Output: buf})
	assert.Equal(t, "DEBUG", l.GetLevel())

	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestSetup_ReplacesDefault(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: "info", Output: buf})

	Info("package level %s", "message")
	Debug("hidden")

	assert.Contains(t, buf.String(), "package level message")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Equal(t, "INFO", GetLogLevel())
}
