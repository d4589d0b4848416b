package module

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/ruleengine"
	"github.com/GoCodeAlone/ruleengine/mock"
)

// shared module fixtures

func conditionModule(id, typeUID string, config map[string]any) *ruleengine.Condition {
	return &ruleengine.Condition{ID: id, TypeUID: typeUID, Config: config}
}

func actionModule(id, typeUID string, config map[string]any) *ruleengine.Action {
	return &ruleengine.Action{ID: id, TypeUID: typeUID, Config: config}
}

func triggerModule(id, typeUID string, config map[string]any) *ruleengine.Trigger {
	return &ruleengine.Trigger{ID: id, TypeUID: typeUID, Config: config}
}

// collectingCallback records trigger firings.
type collectingCallback struct {
	mu      sync.Mutex
	firings []map[string]any
	modules []*ruleengine.Trigger
}

func (c *collectingCallback) Triggered(t *ruleengine.Trigger, outputs map[string]any) {
	c.mu.Lock()
	c.firings = append(c.firings, outputs)
	c.modules = append(c.modules, t)
	c.mu.Unlock()
}

func (c *collectingCallback) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.firings)
}

func (c *collectingCallback) last() (map[string]any, *ruleengine.Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.firings) == 0 {
		return nil, nil
	}
	return c.firings[len(c.firings)-1], c.modules[len(c.modules)-1]
}

type disposableHandler struct {
	disposed int
}

func (h *disposableHandler) Dispose() { h.disposed++ }

func TestFactoryRegisterAndTypes(t *testing.T) {
	f := NewFactory("test.factory")
	f.Register("z.type", func(ruleengine.Module, string) (ruleengine.ModuleHandler, error) {
		return &disposableHandler{}, nil
	})
	f.Register("a.type", func(ruleengine.Module, string) (ruleengine.ModuleHandler, error) {
		return &disposableHandler{}, nil
	})
	assert.Equal(t, []string{"a.type", "z.type"}, f.Types())
}

func TestFactoryHandlerUnknownType(t *testing.T) {
	f := NewFactory("test.factory")
	h, err := f.Handler(actionModule("a1", "nosuch", nil), "r1")
	require.NoError(t, err)
	assert.Nil(t, h, "unknown types yield nil, nil so other factories can serve them")
}

func TestFactoryConstructorError(t *testing.T) {
	f := NewFactory("test.factory")
	f.Register("bad.type", func(ruleengine.Module, string) (ruleengine.ModuleHandler, error) {
		return nil, fmt.Errorf("no good")
	})
	_, err := f.Handler(actionModule("a1", "bad.type", nil), "r1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a1"`)
}

func TestFactoryReleaseDisposesOnce(t *testing.T) {
	f := NewFactory("test.factory")
	f.Register("d.type", func(ruleengine.Module, string) (ruleengine.ModuleHandler, error) {
		return &disposableHandler{}, nil
	})
	m := actionModule("a1", "d.type", nil)
	h, err := f.Handler(m, "r1")
	require.NoError(t, err)
	d := h.(*disposableHandler)

	f.Release(m, "r1", h)
	assert.Equal(t, 1, d.disposed)

	// releasing again only re-disposes; tracking is already gone
	f.Release(m, "r1", h)
	assert.Equal(t, 2, d.disposed)
	f.Release(m, "r1", nil)
}

func TestFactoryStopDisposesRemaining(t *testing.T) {
	f := NewFactory("test.factory")
	f.Register("d.type", func(ruleengine.Module, string) (ruleengine.ModuleHandler, error) {
		return &disposableHandler{}, nil
	})
	h1, err := f.Handler(actionModule("a1", "d.type", nil), "r1")
	require.NoError(t, err)
	h2, err := f.Handler(actionModule("a2", "d.type", nil), "r2")
	require.NoError(t, err)

	require.NoError(t, f.Stop(context.Background()))
	assert.Equal(t, 1, h1.(*disposableHandler).disposed)
	assert.Equal(t, 1, h2.(*disposableHandler).disposed)
}

func TestFactoryAsModularModule(t *testing.T) {
	app := mock.NewTestApplication()
	f := NewFactory("test.factory")
	assert.Equal(t, "test.factory", f.Name())
	require.NoError(t, f.Init(app))
	require.NoError(t, f.Start(context.Background()))
	require.NoError(t, f.Stop(context.Background()))

	var svc interface{}
	require.NoError(t, app.GetService("test.factory", &svc))
	assert.Same(t, f, svc)
	assert.Len(t, f.ProvidesServices(), 1)
	assert.Nil(t, f.RequiresServices())
}

func TestNewCoreFactoryServesBuiltinTypes(t *testing.T) {
	f := NewCoreFactory("core", nil)
	types := f.Types()
	for _, uid := range []string{
		ExprConditionTypeUID,
		ExprTransformTypeUID,
		CELConditionTypeUID,
		JQTransformTypeUID,
		LogActionTypeUID,
		IntervalTriggerTypeUID,
		ruleengine.SystemStartLevelTriggerTypeUID,
	} {
		assert.Contains(t, types, uid)
	}
}

func TestRegisterCoreTypesCoversFactoryTypes(t *testing.T) {
	reg := ruleengine.NewMemoryTypeRegistry()
	require.NoError(t, RegisterCoreTypes(reg))
	f := NewCoreFactory("core", nil)
	for _, uid := range f.Types() {
		assert.NotNil(t, reg.ModuleType(uid), "factory type %s needs registered metadata", uid)
	}
	assert.NotNil(t, reg.ModuleType(NATSTriggerTypeUID))

	assert.Error(t, RegisterCoreTypes(reg), "double registration is rejected")
}
