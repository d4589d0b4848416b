package ruleengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/ruleengine/mock"
)

func TestEngineModuleLifecycle(t *testing.T) {
	app := mock.NewTestApplication()
	types := testTypes(t)
	rules := NewMemoryRuleRegistry()

	store := newMemDisabledStore()
	require.NoError(t, store.SetDisabled("dark", true))
	require.NoError(t, app.RegisterService(StoreServiceName, store))
	pub := &capturePublisher{}
	require.NoError(t, app.RegisterService(PublisherServiceName, pub))

	m := NewEngineModule("ruleengine", types, rules)
	m.SetRetryDelayMillis(10)
	assert.Equal(t, "ruleengine", m.Name())
	require.NoError(t, m.Init(app))
	require.NotNil(t, m.Engine())

	var svc interface{}
	require.NoError(t, app.GetService(ManagerServiceName, &svc))
	engine, ok := svc.(*RuleEngine)
	require.True(t, ok)
	require.Same(t, m.Engine(), engine)

	factory := newStubFactory("test.trigger", "test.action")
	factory.serve("t1", &manualTrigger{})
	factory.serve("a1", &stubAction{})
	engine.AddHandlerFactory(factory)

	_, err := rules.Add(simpleRule("r1"))
	require.NoError(t, err)
	_, err = rules.Add(simpleRule("dark"))
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	defer func() { require.NoError(t, m.Stop(context.Background())) }()

	st, err := engine.Status("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, st)

	info, err := engine.StatusInfo("dark")
	require.NoError(t, err)
	assert.Equal(t, DetailDisabled, info.Detail, "the persisted disabled store is honored")

	assert.NotEmpty(t, pub.statuses(), "the registered publisher receives status events")
	assert.Len(t, m.ProvidesServices(), 1)
	assert.Nil(t, m.RequiresServices())
}

func TestEngineModuleTypeListenerWiring(t *testing.T) {
	app := mock.NewTestApplication()
	types := testTypes(t)

	m := NewEngineModule("ruleengine", types, nil)
	m.SetRetryDelayMillis(5)
	require.NoError(t, m.Init(app))
	engine := m.Engine()
	t.Cleanup(func() { _ = engine.Stop(context.Background()) })

	factory := newStubFactory("test.trigger", "late.action")
	factory.serve("t1", &manualTrigger{})
	factory.serve("a1", &stubAction{})
	engine.AddHandlerFactory(factory)

	rule := simpleRule("r1")
	rule.Actions[0].TypeUID = "late.action"
	rule.Actions[0].Inputs = nil
	_, err := engine.AddRule(rule)
	require.NoError(t, err)

	info, err := engine.StatusInfo("r1")
	require.NoError(t, err)
	require.Equal(t, DetailInvalidRule, info.Detail, "the action type is not registered yet")

	// Init subscribed the engine to the type registry: adding the missing
	// type lets the rule initialize.
	require.NoError(t, types.Add(&ModuleType{
		UID:  "late.action",
		Kind: KindAction,
	}))
	waitForStatus(t, engine, "r1", StatusIdle)
}
