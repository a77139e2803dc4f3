package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONLevel(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := newLogger(buf, &Config{LogFormat: "json", LogLevel: "warn", AppEnv: "staging"})

	logger.Info("dropped")
	logger.Warn("kept", "table", "users")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "staging", rec["env"])
	assert.Equal(t, "users", rec["table"])
}

func TestNewLoggerDefaults(t *testing.T) {
	buf := new(bytes.Buffer)
	newLogger(buf, nil).Debug("hidden")
	assert.Empty(t, buf.String())

	newLogger(buf, nil).Info("shown")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "env=development")
}

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", lvl.String())

	_, err = parseLevel("verbose")
	assert.Error(t, err)
}
