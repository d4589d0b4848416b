package module

import (
	"fmt"
	"sync"

	"github.com/GoCodeAlone/ruleengine"
)

// SystemStartLevelTrigger backs the system start-level trigger type. The
// engine fires qualifying rules itself at startup; this handler exists so
// such rules bind cleanly, and it lets later start-level announcements fire
// the rule again through Announce.
type SystemStartLevelTrigger struct {
	module  *ruleengine.Trigger
	ruleUID string
	level   int

	mu sync.Mutex
	cb ruleengine.TriggerCallback
}

func newSystemStartLevelTrigger(m ruleengine.Module, ruleUID string) (ruleengine.ModuleHandler, error) {
	trigger, ok := m.(*ruleengine.Trigger)
	if !ok {
		return nil, fmt.Errorf("module %q is not a trigger", m.ModuleID())
	}
	level := ruleengine.StartLevelRules
	switch v := m.ModuleConfig()[ruleengine.CfgStartLevel].(type) {
	case int:
		level = v
	case int64:
		level = int(v)
	case float64:
		level = int(v)
	}
	return &SystemStartLevelTrigger{module: trigger, ruleUID: ruleUID, level: level}, nil
}

// SetCallback implements ruleengine.TriggerHandler.
func (h *SystemStartLevelTrigger) SetCallback(cb ruleengine.TriggerCallback) {
	h.mu.Lock()
	h.cb = cb
	h.mu.Unlock()
}

// Announce fires the trigger when the announced start level reaches the
// configured one.
func (h *SystemStartLevelTrigger) Announce(level int) {
	h.mu.Lock()
	cb := h.cb
	h.mu.Unlock()
	if cb == nil || level < h.level {
		return
	}
	cb.Triggered(h.module, map[string]any{ruleengine.OutStartLevel: level})
}

// Dispose implements ruleengine.ModuleHandler.
func (h *SystemStartLevelTrigger) Dispose() { h.SetCallback(nil) }
