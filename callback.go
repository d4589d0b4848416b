package ruleengine

import "sync"

// triggerFiring is one queued trigger activation.
type triggerFiring struct {
	trigger *Trigger
	outputs map[string]any
}

// triggerCallback is the per-rule TriggerCallback handed to every trigger
// handler of one rule. Firings are queued and executed strictly in arrival
// order by a dedicated goroutine, so a rule never observes overlapping
// triggered executions from its own triggers.
type triggerCallback struct {
	engine  *RuleEngine
	ruleUID string
	queue   chan triggerFiring
	done    chan struct{}
	once    sync.Once
}

const triggerQueueDepth = 64

func newTriggerCallback(e *RuleEngine, ruleUID string) *triggerCallback {
	cb := &triggerCallback{
		engine:  e,
		ruleUID: ruleUID,
		queue:   make(chan triggerFiring, triggerQueueDepth),
		done:    make(chan struct{}),
	}
	go cb.loop()
	return cb
}

func (c *triggerCallback) loop() {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.queue:
			c.engine.runRule(c.ruleUID, f)
		}
	}
}

// Triggered implements TriggerCallback. It never blocks: when the queue is
// full the firing is dropped and logged.
func (c *triggerCallback) Triggered(t *Trigger, outputs map[string]any) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.queue <- triggerFiring{trigger: t, outputs: outputs}:
	default:
		c.engine.logger.Warn("trigger queue full, firing dropped",
			"rule", c.ruleUID, "trigger", t.ID)
	}
}

// dispose stops the dispatch goroutine; queued firings are discarded.
func (c *triggerCallback) dispose() {
	c.once.Do(func() { close(c.done) })
}
