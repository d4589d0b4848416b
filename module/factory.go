// Package module provides the built-in handler factories: expression
// conditions (expr, CEL), transform actions (expr, jq), logging, interval
// and NATS triggers, the system start-level trigger, and the composite
// factory that expands composite module types into child handlers.
package module

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/GoCodeAlone/modular"

	"github.com/GoCodeAlone/ruleengine"
)

// HandlerConstructor builds one handler for a module instance.
type HandlerConstructor func(m ruleengine.Module, ruleUID string) (ruleengine.ModuleHandler, error)

// Factory is a HandlerFactory backed by per-type constructor functions. It
// tracks the handlers it creates per rule so Release disposes them exactly
// once. It is also a modular module providing itself as a named service.
type Factory struct {
	name string

	mu           sync.Mutex
	constructors map[string]HandlerConstructor
	created      map[string][]ruleengine.ModuleHandler

	logger modular.Logger
}

// NewFactory creates an empty factory. Register constructors before handing
// it to the engine.
func NewFactory(name string) *Factory {
	return &Factory{
		name:         name,
		constructors: make(map[string]HandlerConstructor),
		created:      make(map[string][]ruleengine.ModuleHandler),
	}
}

// Register binds a constructor to a module type UID.
func (f *Factory) Register(typeUID string, c HandlerConstructor) {
	f.mu.Lock()
	f.constructors[typeUID] = c
	f.mu.Unlock()
}

// Types implements ruleengine.HandlerFactory.
func (f *Factory) Types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Handler implements ruleengine.HandlerFactory.
func (f *Factory) Handler(m ruleengine.Module, ruleUID string) (ruleengine.ModuleHandler, error) {
	f.mu.Lock()
	c := f.constructors[m.ModuleTypeUID()]
	f.mu.Unlock()
	if c == nil {
		return nil, nil
	}
	h, err := c(m, ruleUID)
	if err != nil {
		return nil, fmt.Errorf("creating handler for module %q: %w", m.ModuleID(), err)
	}
	if h != nil {
		f.mu.Lock()
		f.created[ruleUID] = append(f.created[ruleUID], h)
		f.mu.Unlock()
	}
	return h, nil
}

// Release implements ruleengine.HandlerFactory.
func (f *Factory) Release(_ ruleengine.Module, ruleUID string, h ruleengine.ModuleHandler) {
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

// Name implements modular.Module.
func (f *Factory) Name() string { return f.name }

// Init implements modular.Module.
func (f *Factory) Init(app modular.Application) error {
	f.logger = app.Logger()
	return app.RegisterService(f.name, f)
}

// Start implements modular.Startable.
func (f *Factory) Start(context.Context) error { return nil }

// Stop implements modular.Stoppable. Remaining handlers are disposed.
func (f *Factory) Stop(context.Context) error {
	f.mu.Lock()
	created := f.created
	f.created = make(map[string][]ruleengine.ModuleHandler)
	f.mu.Unlock()
	for _, handlers := range created {
		for _, h := range handlers {
			h.Dispose()
		}
	}
	return nil
}

// ProvidesServices implements modular.ServiceAware.
func (f *Factory) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        f.name,
			Description: "Rule module handler factory",
			Instance:    f,
		},
	}
}

// RequiresServices implements modular.ServiceAware.
func (f *Factory) RequiresServices() []modular.ServiceDependency { return nil }

// NewCoreFactory builds the factory serving the built-in module types. The
// logger is used by the log action handler; nil falls back to
// slog.Default().
func NewCoreFactory(name string, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := NewFactory(name)
	f.Register(ExprConditionTypeUID, newExprCondition)
	f.Register(ExprTransformTypeUID, newExprTransform)
	f.Register(CELConditionTypeUID, newCELCondition)
	f.Register(JQTransformTypeUID, newJQTransform)
	f.Register(LogActionTypeUID, func(m ruleengine.Module, ruleUID string) (ruleengine.ModuleHandler, error) {
		return newLogAction(m, ruleUID, logger)
	})
	f.Register(IntervalTriggerTypeUID, newIntervalTrigger)
	f.Register(ruleengine.SystemStartLevelTriggerTypeUID, newSystemStartLevelTrigger)
	return f
}

// baseHandler carries the module binding common to all built-in handlers.
type baseHandler struct {
	module  ruleengine.Module
	ruleUID string
}

func (h *baseHandler) Dispose() {}

// configString reads a required string config key.
func configString(m ruleengine.Module, key string) (string, error) {
	v, ok := m.ModuleConfig()[key]
	if !ok {
		return "", fmt.Errorf("module %q: missing config key %q", m.ModuleID(), key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("module %q: config key %q must be a non-empty string", m.ModuleID(), key)
	}
	return s, nil
}
