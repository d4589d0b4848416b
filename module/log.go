package module

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/GoCodeAlone/ruleengine"
)

// LogActionTypeUID logs a message together with the module's resolved
// inputs; config: "message" (required), "level" (debug|info|warn|error,
// default info).
const LogActionTypeUID = "core.LogAction"

// LogAction writes a structured log line per execution.
type LogAction struct {
	baseHandler
	message string
	level   slog.Level
	logger  *slog.Logger
}

func newLogAction(m ruleengine.Module, ruleUID string, logger *slog.Logger) (ruleengine.ModuleHandler, error) {
	message, err := configString(m, "message")
	if err != nil {
		return nil, err
	}
	level := slog.LevelInfo
	if raw, ok := m.ModuleConfig()["level"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("module %q: config key \"level\" must be a string", m.ModuleID())
		}
		switch s {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			return nil, fmt.Errorf("module %q: unknown log level %q", m.ModuleID(), s)
		}
	}
	return &LogAction{
		baseHandler: baseHandler{module: m, ruleUID: ruleUID},
		message:     message,
		level:       level,
		logger:      logger,
	}, nil
}

// Execute implements ruleengine.ActionHandler.
func (h *LogAction) Execute(inputs map[string]any) (map[string]any, error) {
	attrs := make([]any, 0, 2*len(inputs)+4)
	attrs = append(attrs, "rule", h.ruleUID, "action", h.module.ModuleID())
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, inputs[k])
	}
	h.logger.Log(context.Background(), h.level, h.message, attrs...)
	return nil, nil
}
