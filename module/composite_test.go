package module

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/ruleengine"
)

// fakeResolver binds composite children from a map keyed by module ID.
type fakeResolver struct {
	mu       sync.Mutex
	handlers map[string]ruleengine.ModuleHandler
	released []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{handlers: make(map[string]ruleengine.ModuleHandler)}
}

func (r *fakeResolver) ResolveHandler(m ruleengine.Module, _ string) (ruleengine.ModuleHandler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handlers[m.ModuleID()]
	if h == nil {
		return nil, fmt.Errorf("no handler for module %q", m.ModuleID())
	}
	if ft, ok := h.(*fakeChildTrigger); ok {
		if trigger, isTrigger := m.(*ruleengine.Trigger); isTrigger {
			ft.module = trigger
		}
	}
	return h, nil
}

func (r *fakeResolver) ReleaseHandler(m ruleengine.Module, _ string, _ ruleengine.ModuleHandler) {
	r.mu.Lock()
	r.released = append(r.released, m.ModuleID())
	r.mu.Unlock()
}

type fakeChildCondition struct {
	decide func(inputs map[string]any) (bool, error)
	mu     sync.Mutex
	seen   []map[string]any
}

func (h *fakeChildCondition) IsSatisfied(inputs map[string]any) (bool, error) {
	h.mu.Lock()
	h.seen = append(h.seen, inputs)
	h.mu.Unlock()
	return h.decide(inputs)
}

func (h *fakeChildCondition) Dispose() {}

func (h *fakeChildCondition) inputsAt(i int) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[i]
}

type fakeChildAction struct {
	run  func(inputs map[string]any) (map[string]any, error)
	mu   sync.Mutex
	seen []map[string]any
}

func (h *fakeChildAction) Execute(inputs map[string]any) (map[string]any, error) {
	h.mu.Lock()
	h.seen = append(h.seen, inputs)
	h.mu.Unlock()
	return h.run(inputs)
}

func (h *fakeChildAction) Dispose() {}

func (h *fakeChildAction) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func (h *fakeChildAction) inputsAt(i int) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[i]
}

type fakeChildTrigger struct {
	module *ruleengine.Trigger
	mu     sync.Mutex
	cb     ruleengine.TriggerCallback
}

func (h *fakeChildTrigger) SetCallback(cb ruleengine.TriggerCallback) {
	h.mu.Lock()
	h.cb = cb
	h.mu.Unlock()
}

func (h *fakeChildTrigger) Dispose() { h.SetCallback(nil) }

func (h *fakeChildTrigger) fire(outputs map[string]any) {
	h.mu.Lock()
	cb := h.cb
	h.mu.Unlock()
	if cb != nil {
		cb.Triggered(h.module, outputs)
	}
}

func compositeConditionType() *ruleengine.ModuleType {
	return &ruleengine.ModuleType{
		UID:  "comp.condition",
		Kind: ruleengine.KindCondition,
		Inputs: []ruleengine.Input{
			{Name: "temperature", Type: "number"},
		},
		Composite: &ruleengine.CompositeSpec{
			Conditions: []ruleengine.Condition{
				{
					ID:      "child1",
					TypeUID: "child.condition",
					Config:  map[string]any{"threshold": "${limit}"},
					Inputs:  map[string]string{"reading": "${temperature}"},
				},
			},
		},
	}
}

func TestCompositeConditionExpandsChild(t *testing.T) {
	types := ruleengine.NewMemoryTypeRegistry()
	require.NoError(t, types.Add(compositeConditionType()))

	resolver := newFakeResolver()
	child := &fakeChildCondition{decide: func(inputs map[string]any) (bool, error) {
		return inputs["reading"].(int) >= inputs["threshold"].(int), nil
	}}
	resolver.handlers["child1"] = child

	f := NewCompositeFactory(types, resolver)
	assert.Nil(t, f.Types(), "the composite factory is a pure fallback")

	m := conditionModule("c1", "comp.condition", map[string]any{"limit": 20})
	h, err := f.Handler(m, "r1")
	require.NoError(t, err)
	cond := h.(ruleengine.ConditionHandler)

	ok, err := cond.IsSatisfied(map[string]any{"temperature": 25})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond.IsSatisfied(map[string]any{"temperature": 15})
	require.NoError(t, err)
	assert.False(t, ok)

	// the child saw its declared input resolved against the composite context
	// and its "${limit}" config substituted with the parent's value
	require.NotEmpty(t, child.seen)
	assert.Equal(t, 25, child.inputsAt(0)["reading"])
	assert.Equal(t, 20, child.inputsAt(0)["threshold"])

	f.Release(m, "r1", h)
	assert.Equal(t, []string{"child1"}, resolver.released)
}

func TestCompositeActionChainsChildren(t *testing.T) {
	types := ruleengine.NewMemoryTypeRegistry()
	require.NoError(t, types.Add(&ruleengine.ModuleType{
		UID:  "comp.action",
		Kind: ruleengine.KindAction,
		Outputs: []ruleengine.Output{
			{Name: "final", Type: "number", Reference: "${step2.out}"},
		},
		Composite: &ruleengine.CompositeSpec{
			Actions: []ruleengine.Action{
				{ID: "step1", TypeUID: "child.action"},
				{
					ID:      "step2",
					TypeUID: "child.action",
					Config:  map[string]any{"factor": "${scale}"},
					Inputs:  map[string]string{"in": "${step1.out}"},
				},
			},
		},
	}))

	resolver := newFakeResolver()
	resolver.handlers["step1"] = &fakeChildAction{run: func(inputs map[string]any) (map[string]any, error) {
		return map[string]any{"out": inputs["seed"].(int) + 1}, nil
	}}
	second := &fakeChildAction{run: func(inputs map[string]any) (map[string]any, error) {
		return map[string]any{"out": inputs["in"].(int) * inputs["factor"].(int)}, nil
	}}
	resolver.handlers["step2"] = second

	f := NewCompositeFactory(types, resolver)
	h, err := f.Handler(actionModule("a1", "comp.action", map[string]any{"scale": 10}), "r1")
	require.NoError(t, err)

	out, err := h.(ruleengine.ActionHandler).Execute(map[string]any{"seed": 4})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"final": 50}, out, "children chain through the internal context")
	assert.Equal(t, 5, second.inputsAt(0)["in"])
	assert.Equal(t, 10, second.inputsAt(0)["factor"], "resolved child config is visible to the child")
}

func TestCompositeActionChildError(t *testing.T) {
	types := ruleengine.NewMemoryTypeRegistry()
	require.NoError(t, types.Add(&ruleengine.ModuleType{
		UID:  "comp.action",
		Kind: ruleengine.KindAction,
		Composite: &ruleengine.CompositeSpec{
			Actions: []ruleengine.Action{{ID: "broken", TypeUID: "child.action"}},
		},
	}))
	resolver := newFakeResolver()
	resolver.handlers["broken"] = &fakeChildAction{run: func(map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("boom")
	}}
	f := NewCompositeFactory(types, resolver)
	h, err := f.Handler(actionModule("a1", "comp.action", nil), "r1")
	require.NoError(t, err)
	_, err = h.(ruleengine.ActionHandler).Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"broken"`)
}

func TestCompositeTriggerRelaysChildFirings(t *testing.T) {
	types := ruleengine.NewMemoryTypeRegistry()
	require.NoError(t, types.Add(&ruleengine.ModuleType{
		UID:  "comp.trigger",
		Kind: ruleengine.KindTrigger,
		Outputs: []ruleengine.Output{
			{Name: "event", Type: "*", Reference: "${source.raw}"},
		},
		Composite: &ruleengine.CompositeSpec{
			Triggers: []ruleengine.Trigger{{ID: "source", TypeUID: "child.trigger"}},
		},
	}))

	resolver := newFakeResolver()
	child := &fakeChildTrigger{}
	resolver.handlers["source"] = child

	f := NewCompositeFactory(types, resolver)
	parent := triggerModule("t1", "comp.trigger", nil)
	h, err := f.Handler(parent, "r1")
	require.NoError(t, err)
	trigger := h.(ruleengine.TriggerHandler)

	cb := &collectingCallback{}
	trigger.SetCallback(cb)
	child.fire(map[string]any{"raw": 7})

	require.Equal(t, 1, cb.count())
	outputs, module := cb.last()
	assert.Same(t, parent, module, "firings carry the composite module, not the child")
	assert.Equal(t, map[string]any{"event": 7}, outputs)

	trigger.SetCallback(nil)
	child.fire(map[string]any{"raw": 8})
	assert.Equal(t, 1, cb.count())
}

func TestCompositeHandlerForNonCompositeType(t *testing.T) {
	types := ruleengine.NewMemoryTypeRegistry()
	require.NoError(t, types.Add(&ruleengine.ModuleType{UID: "plain.action", Kind: ruleengine.KindAction}))
	f := NewCompositeFactory(types, newFakeResolver())
	_, err := f.Handler(actionModule("a1", "plain.action", nil), "r1")
	assert.Error(t, err)
}

// The engine resolves composite children through its own factory table, so a
// composite condition can expand into built-in expr conditions.
func TestCompositeThroughEngine(t *testing.T) {
	types := ruleengine.NewMemoryTypeRegistry()
	require.NoError(t, RegisterCoreTypes(types))
	require.NoError(t, types.Add(&ruleengine.ModuleType{
		UID:  "comp.threshold",
		Kind: ruleengine.KindCondition,
		Inputs: []ruleengine.Input{
			{Name: "value", Type: "*"},
		},
		Composite: &ruleengine.CompositeSpec{
			Conditions: []ruleengine.Condition{
				{
					ID:      "check",
					TypeUID: ExprConditionTypeUID,
					Config:  map[string]any{"expression": "value > 10"},
				},
			},
		},
	}))
	require.NoError(t, types.Add(&ruleengine.ModuleType{
		UID:     "test.trigger",
		Kind:    ruleengine.KindTrigger,
		Outputs: []ruleengine.Output{{Name: "value", Type: "*"}},
	}))
	require.NoError(t, types.Add(&ruleengine.ModuleType{
		UID:    "test.action",
		Kind:   ruleengine.KindAction,
		Inputs: []ruleengine.Input{{Name: "value", Type: "*"}},
	}))

	e := ruleengine.New(types, slog.Default())
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	e.SetCompositeFactory(NewCompositeFactory(types, e))
	e.AddHandlerFactory(NewCoreFactory("core", nil))

	trigger := &fakeChildTrigger{}
	sink := &fakeChildAction{run: func(map[string]any) (map[string]any, error) { return nil, nil }}
	extra := NewFactory("extra")
	extra.Register("test.trigger", func(m ruleengine.Module, _ string) (ruleengine.ModuleHandler, error) {
		trigger.module = m.(*ruleengine.Trigger)
		return trigger, nil
	})
	extra.Register("test.action", func(ruleengine.Module, string) (ruleengine.ModuleHandler, error) {
		return sink, nil
	})
	e.AddHandlerFactory(extra)

	_, err := e.AddRule(ruleengine.Rule{
		UID:      "r1",
		Triggers: []ruleengine.Trigger{{ID: "t1", TypeUID: "test.trigger"}},
		Conditions: []ruleengine.Condition{
			{ID: "c1", TypeUID: "comp.threshold", Inputs: map[string]string{"value": "t1.value"}},
		},
		Actions: []ruleengine.Action{
			{ID: "a1", TypeUID: "test.action", Inputs: map[string]string{"value": "t1.value"}},
		},
	})
	require.NoError(t, err)
	st, err := e.Status("r1")
	require.NoError(t, err)
	require.Equal(t, ruleengine.StatusIdle, st)
	require.NoError(t, e.Start(context.Background()))

	trigger.fire(map[string]any{"value": 42})
	require.Eventually(t, func() bool { return sink.calls() == 1 }, time.Second, 5*time.Millisecond)

	trigger.fire(map[string]any{"value": 3})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sink.calls(), "the composite condition gates the action")
}
