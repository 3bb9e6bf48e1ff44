package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "debug", FormatJSON).WithList("list-1").WithParticipant("p-1")

	log.Info("applied operation", "operation", "move")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "applied operation", entry["msg"])
	assert.Equal(t, "list-1", entry["list_id"])
	assert.Equal(t, "p-1", entry["participant_id"])
	assert.Equal(t, "move", entry["operation"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "warn", FormatText)

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel_Default(t *testing.T) {
	assert.Equal(t, parseLevel("nonsense"), parseLevel(LevelInfo))
}

func TestNopLogger(t *testing.T) {
	log := NopLogger()
	log.Error("dropped", "k", "v")
	assert.Same(t, log, log.With())
}
