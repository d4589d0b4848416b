package module

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/ruleengine"
)

func TestLogActionWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h, err := newLogAction(actionModule("a1", LogActionTypeUID, map[string]any{
		"message": "lamp switched",
		"level":   "warn",
	}), "r1", logger)
	require.NoError(t, err)

	out, err := h.(ruleengine.ActionHandler).Execute(map[string]any{"state": "on"})
	require.NoError(t, err)
	assert.Nil(t, out, "the log action publishes no outputs")

	line := buf.String()
	assert.Contains(t, line, "lamp switched")
	assert.Contains(t, line, "level=WARN")
	assert.Contains(t, line, "rule=r1")
	assert.Contains(t, line, "action=a1")
	assert.Contains(t, line, "state=on")
}

func TestLogActionDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h, err := newLogAction(actionModule("a1", LogActionTypeUID, map[string]any{
		"message": "hello",
	}), "r1", logger)
	require.NoError(t, err)
	_, err = h.(ruleengine.ActionHandler).Execute(nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=INFO")
}

func TestLogActionConfigErrors(t *testing.T) {
	logger := slog.Default()
	_, err := newLogAction(actionModule("a1", LogActionTypeUID, nil), "r1", logger)
	assert.Error(t, err, "message is required")

	_, err = newLogAction(actionModule("a1", LogActionTypeUID, map[string]any{
		"message": "x",
		"level":   "loud",
	}), "r1", logger)
	assert.Error(t, err)

	_, err = newLogAction(actionModule("a1", LogActionTypeUID, map[string]any{
		"message": "x",
		"level":   7,
	}), "r1", logger)
	assert.Error(t, err)
}
