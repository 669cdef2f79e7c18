package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("loyalty", "WARN", &buf)

	log.Info("dropped")
	assert.Zero(t, buf.Len(), "info is below warn")

	log.WithField("user_id", "u1").Warn("balance low")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "loyalty", line["service"])
	assert.Equal(t, "u1", line["user_id"])
	assert.Equal(t, "balance low", line["message"])
	assert.Equal(t, "warning", line["level"])
	assert.Contains(t, line, "timestamp")
}
