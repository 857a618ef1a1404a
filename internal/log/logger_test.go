package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Level: "debug", Service: "railwayd-test"})

	l := WithComponent("monitor")
	l.Info().Str("event", "tick.done").Int("alerts", 2).Msg("tick complete")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "monitor", entry["component"])
	assert.Equal(t, "railwayd-test", entry["service"])
	assert.Equal(t, "tick.done", entry["event"])
	assert.EqualValues(t, 2, entry["alerts"])
}
