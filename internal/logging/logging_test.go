package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "text")

	log.Info("hidden")
	log.Warn("shown", "signal_id", "abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "signal_id=abc")
}

func TestLoggerJSONWith(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "debug", "json").With("component", "gate")

	log.Debug("checked")

	assert.Contains(t, buf.String(), `"component":"gate"`)
	assert.Contains(t, buf.String(), `"msg":"checked"`)
}
