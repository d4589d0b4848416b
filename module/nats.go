package module

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/modular"
	"github.com/nats-io/nats.go"

	"github.com/GoCodeAlone/ruleengine"
)

// NATSTriggerTypeUID fires on messages of a NATS subject; config:
// "subject". Each firing carries outputs "subject" and "payload" (decoded
// JSON when the body parses, raw string otherwise).
const NATSTriggerTypeUID = "core.NATSTrigger"

// NATSFactory is a handler factory for NATS subject triggers and a modular
// module owning the NATS connection.
type NATSFactory struct {
	name string
	url  string

	mu      sync.Mutex
	conn    *nats.Conn
	created map[string][]ruleengine.ModuleHandler

	logger modular.Logger
}

// NewNATSFactory creates the factory. The connection is established in
// Start.
func NewNATSFactory(name string) *NATSFactory {
	return &NATSFactory{
		name:    name,
		url:     nats.DefaultURL,
		created: make(map[string][]ruleengine.ModuleHandler),
	}
}

// SetURL sets the NATS server URL.
func (f *NATSFactory) SetURL(url string) {
	f.mu.Lock()
	f.url = url
	f.mu.Unlock()
}

// Name implements modular.Module.
func (f *NATSFactory) Name() string { return f.name }

// Init implements modular.Module.
func (f *NATSFactory) Init(app modular.Application) error {
	f.logger = app.Logger()
	return app.RegisterService(f.name, f)
}

// Start connects to NATS.
func (f *NATSFactory) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, err := nats.Connect(f.url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", f.url, err)
	}
	f.conn = conn
	if f.logger != nil {
		f.logger.Info("NATS trigger factory started", "url", f.url)
	}
	return nil
}

// Stop disposes remaining handlers and closes the connection.
func (f *NATSFactory) Stop(context.Context) error {
	f.mu.Lock()
	created := f.created
	f.created = make(map[string][]ruleengine.ModuleHandler)
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	for _, handlers := range created {
		for _, h := range handlers {
			h.Dispose()
		}
	}
	if conn != nil {
		conn.Close()
	}
	return nil
}

// ProvidesServices implements modular.ServiceAware.
func (f *NATSFactory) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        f.name,
			Description: "NATS trigger handler factory",
			Instance:    f,
		},
	}
}

// RequiresServices implements modular.ServiceAware.
func (f *NATSFactory) RequiresServices() []modular.ServiceDependency { return nil }

// Types implements ruleengine.HandlerFactory.
func (f *NATSFactory) Types() []string { return []string{NATSTriggerTypeUID} }

// Handler implements ruleengine.HandlerFactory.
func (f *NATSFactory) Handler(m ruleengine.Module, ruleUID string) (ruleengine.ModuleHandler, error) {
	if m.ModuleTypeUID() != NATSTriggerTypeUID {
		return nil, nil
	}
	trigger, ok := m.(*ruleengine.Trigger)
	if !ok {
		return nil, fmt.Errorf("module %q is not a trigger", m.ModuleID())
	}
	subject, err := configString(m, "subject")
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("NATS connection not established; call Start first")
	}
	h := &natsTrigger{factory: f, module: trigger, subject: subject, conn: conn}
	f.mu.Lock()
	f.created[ruleUID] = append(f.created[ruleUID], h)
	f.mu.Unlock()
	return h, nil
}

// Release implements ruleengine.HandlerFactory.
func (f *NATSFactory) Release(_ ruleengine.Module, ruleUID string, h ruleengine.ModuleHandler) {
	if h == nil {
		return
	}
	f.mu.Lock()
	handlers := f.created[ruleUID]
	for i, x := range handlers {
		if x == h {
			f.created[ruleUID] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	if len(f.created[ruleUID]) == 0 {
		delete(f.created, ruleUID)
	}
	f.mu.Unlock()
	h.Dispose()
}

// natsTrigger subscribes while a callback is attached.
type natsTrigger struct {
	factory *NATSFactory
	module  *ruleengine.Trigger
	subject string
	conn    *nats.Conn

	mu  sync.Mutex
	sub *nats.Subscription
}

// SetCallback implements ruleengine.TriggerHandler.
func (h *natsTrigger) SetCallback(cb ruleengine.TriggerCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sub != nil {
		if err := h.sub.Unsubscribe(); err != nil && h.factory.logger != nil {
			h.factory.logger.Error("failed to unsubscribe", "subject", h.subject, "error", err)
		}
		h.sub = nil
	}
	if cb == nil {
		return
	}
	sub, err := h.conn.Subscribe(h.subject, func(msg *nats.Msg) {
		cb.Triggered(h.module, map[string]any{
			"subject": msg.Subject,
			"payload": decodePayload(msg.Data),
		})
	})
	if err != nil {
		if h.factory.logger != nil {
			h.factory.logger.Error("failed to subscribe", "subject", h.subject, "error", err)
		}
		return
	}
	h.sub = sub
}

// Dispose implements ruleengine.ModuleHandler.
func (h *natsTrigger) Dispose() { h.SetCallback(nil) }

func decodePayload(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err == nil {
		return v
	}
	return string(data)
}
