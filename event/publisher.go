// Package event delivers rule status transition events to local or remote
// consumers.
package event

import (
	"fmt"
	"sync"

	"github.com/GoCodeAlone/ruleengine"
)

// Channel buffers status events on a Go channel for in-process consumers.
type Channel struct {
	mu     sync.Mutex
	ch     chan ruleengine.StatusEvent
	closed bool
}

// NewChannel creates a publisher with the given buffer depth.
func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = 16
	}
	return &Channel{ch: make(chan ruleengine.StatusEvent, buffer)}
}

// PublishStatus implements ruleengine.StatusPublisher. It never blocks; a
// full buffer drops the event and reports an error.
func (c *Channel) PublishStatus(ev ruleengine.StatusEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("status channel closed")
	}
	select {
	case c.ch <- ev:
		return nil
	default:
		return fmt.Errorf("status channel full, event for rule %q dropped", ev.RuleUID)
	}
}

// Events returns the receive side.
func (c *Channel) Events() <-chan ruleengine.StatusEvent { return c.ch }

// Close stops the publisher and closes the event channel.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
