package module

import (
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/ruleengine"
)

// IntervalTriggerTypeUID fires at a fixed interval; config: "interval"
// (Go duration string, e.g. "5s", or a number of seconds). Each firing
// carries outputs "firedAt" (time.Time) and "count" (int, 1-based).
const IntervalTriggerTypeUID = "core.IntervalTrigger"

// IntervalTrigger runs a ticker goroutine while a callback is attached.
type IntervalTrigger struct {
	module   *ruleengine.Trigger
	ruleUID  string
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
}

func newIntervalTrigger(m ruleengine.Module, ruleUID string) (ruleengine.ModuleHandler, error) {
	trigger, ok := m.(*ruleengine.Trigger)
	if !ok {
		return nil, fmt.Errorf("module %q is not a trigger", m.ModuleID())
	}
	interval, err := intervalConfig(m)
	if err != nil {
		return nil, err
	}
	return &IntervalTrigger{module: trigger, ruleUID: ruleUID, interval: interval}, nil
}

func intervalConfig(m ruleengine.Module) (time.Duration, error) {
	raw, ok := m.ModuleConfig()["interval"]
	if !ok {
		return 0, fmt.Errorf("module %q: missing config key \"interval\"", m.ModuleID())
	}
	var d time.Duration
	switch v := raw.(type) {
	case string:
		var err error
		d, err = time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("module %q: invalid interval %q: %w", m.ModuleID(), v, err)
		}
	case int:
		d = time.Duration(v) * time.Second
	case int64:
		d = time.Duration(v) * time.Second
	case float64:
		d = time.Duration(v * float64(time.Second))
	default:
		return 0, fmt.Errorf("module %q: interval must be a duration string or seconds", m.ModuleID())
	}
	if d <= 0 {
		return 0, fmt.Errorf("module %q: interval must be positive", m.ModuleID())
	}
	return d, nil
}

// SetCallback implements ruleengine.TriggerHandler. Attaching starts the
// ticker; detaching (nil) stops it.
func (h *IntervalTrigger) SetCallback(cb ruleengine.TriggerCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
	if cb == nil {
		return
	}
	stop := make(chan struct{})
	h.stop = stop
	go h.run(cb, stop)
}

func (h *IntervalTrigger) run(cb ruleengine.TriggerCallback, stop chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	count := 0
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			count++
			cb.Triggered(h.module, map[string]any{"firedAt": now, "count": count})
		}
	}
}

// Dispose implements ruleengine.ModuleHandler.
func (h *IntervalTrigger) Dispose() { h.SetCallback(nil) }
