package ruleengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/modular"
)

// Service names the engine module looks up and provides.
const (
	ManagerServiceName   = "ruleengine.manager"
	StoreServiceName     = "ruleengine.store"
	PublisherServiceName = "ruleengine.publisher"
	MetricsServiceName   = "ruleengine.metrics"
)

// EngineModule wires a RuleEngine into a modular application. Optional
// collaborators (disabled store, status publisher, metrics recorder) are
// picked up from the service registry when present.
type EngineModule struct {
	name   string
	types  ModuleTypeRegistry
	rules  RuleRegistry
	logger *slog.Logger
	engine *RuleEngine

	retryDelay int // milliseconds; 0 keeps the default
	runLevel   int // 0 keeps the default
}

// NewEngineModule creates the module. The rule registry may be nil; rules
// are then added through the engine service directly.
func NewEngineModule(name string, types ModuleTypeRegistry, rules RuleRegistry) *EngineModule {
	return &EngineModule{name: name, types: types, rules: rules}
}

// SetLogger overrides the slog logger used by the engine core. Without it
// the engine logs through slog.Default().
func (m *EngineModule) SetLogger(l *slog.Logger) { m.logger = l }

// SetRetryDelayMillis configures the initialization retry delay.
func (m *EngineModule) SetRetryDelayMillis(ms int) { m.retryDelay = ms }

// SetRunLevel configures the engine run level used at startup.
func (m *EngineModule) SetRunLevel(level int) { m.runLevel = level }

// Engine returns the underlying engine; valid after Init.
func (m *EngineModule) Engine() *RuleEngine { return m.engine }

// Name implements modular.Module.
func (m *EngineModule) Name() string { return m.name }

// Init implements modular.Module. It builds the engine, attaches optional
// services and registers the engine as the manager service.
func (m *EngineModule) Init(app modular.Application) error {
	m.engine = New(m.types, m.logger)
	if m.retryDelay > 0 {
		m.engine.SetRetryDelay(time.Duration(m.retryDelay) * time.Millisecond)
	}
	if m.runLevel > 0 {
		m.engine.SetRunLevel(m.runLevel)
	}

	var svc interface{}
	if err := app.GetService(StoreServiceName, &svc); err == nil && svc != nil {
		if store, ok := svc.(DisabledStore); ok {
			m.engine.SetDisabledStore(store)
		}
	}
	svc = nil
	if err := app.GetService(PublisherServiceName, &svc); err == nil && svc != nil {
		if pub, ok := svc.(StatusPublisher); ok {
			m.engine.SetStatusPublisher(pub)
		}
	}
	svc = nil
	if err := app.GetService(MetricsServiceName, &svc); err == nil && svc != nil {
		if rec, ok := svc.(MetricsRecorder); ok {
			m.engine.SetMetrics(rec)
		}
	}

	if lr, ok := m.types.(interface{ AddListener(ModuleTypeListener) }); ok {
		lr.AddListener(m.engine)
	}

	return app.RegisterService(ManagerServiceName, m.engine)
}

// Start implements modular.Startable. Registered rules are adopted before
// the engine opens for triggered execution.
func (m *EngineModule) Start(ctx context.Context) error {
	if m.rules != nil {
		m.engine.AttachRuleRegistry(m.rules)
	}
	return m.engine.Start(ctx)
}

// Stop implements modular.Stoppable.
func (m *EngineModule) Stop(ctx context.Context) error {
	return m.engine.Stop(ctx)
}

// ProvidesServices implements modular.ServiceAware.
func (m *EngineModule) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{
			Name:        ManagerServiceName,
			Description: "Rule engine manager",
			Instance:    m.engine,
		},
	}
}

// RequiresServices implements modular.ServiceAware.
func (m *EngineModule) RequiresServices() []modular.ServiceDependency {
	return nil
}
