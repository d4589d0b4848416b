package event

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/GoCodeAlone/ruleengine"
)

// NATS publishes status events as JSON on "<prefix>.<ruleUID>" subjects.
type NATS struct {
	conn   *nats.Conn
	prefix string
}

// NewNATS creates the publisher over an established connection. An empty
// prefix defaults to "ruleengine.status".
func NewNATS(conn *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = "ruleengine.status"
	}
	return &NATS{conn: conn, prefix: prefix}
}

// PublishStatus implements ruleengine.StatusPublisher.
func (p *NATS) PublishStatus(ev ruleengine.StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	subject := p.prefix + "." + ev.RuleUID
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish status event to %q: %w", subject, err)
	}
	return nil
}
