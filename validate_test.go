package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationTypes(t *testing.T) *MemoryTypeRegistry {
	t.Helper()
	reg := NewMemoryTypeRegistry()
	require.NoError(t, reg.Add(&ModuleType{
		UID:  "v.trigger",
		Kind: KindTrigger,
		Outputs: []Output{
			{Name: "event", Type: "string"},
			{Name: "payload", Type: "*"},
		},
	}))
	require.NoError(t, reg.Add(&ModuleType{
		UID:  "v.action",
		Kind: KindAction,
		Inputs: []Input{
			{Name: "text", Type: "string", Required: true},
			{Name: "extra", Type: "number"},
		},
		Outputs: []Output{
			{Name: "length", Type: "number"},
		},
	}))
	return reg
}

func prepared(t *testing.T, r Rule) *wrappedRule {
	t.Helper()
	w := newWrappedRule(r)
	for _, c := range w.conditions {
		conns, err := parseConnections(c.module.Inputs)
		require.NoError(t, err)
		c.connections = conns
	}
	for _, a := range w.actions {
		conns, err := parseConnections(a.module.Inputs)
		require.NoError(t, err)
		a.connections = conns
	}
	return w
}

func TestValidateConnectionsOK(t *testing.T) {
	reg := validationTypes(t)
	w := prepared(t, Rule{
		Triggers: []Trigger{{ID: "t1", TypeUID: "v.trigger"}},
		Actions: []Action{
			{ID: "a1", TypeUID: "v.action", Inputs: map[string]string{"text": "t1.event"}},
			{ID: "a2", TypeUID: "v.action", Inputs: map[string]string{
				"text":  "t1.event",
				"extra": "a1.length",
			}},
		},
	})
	assert.NoError(t, validateConnections(reg, w))
}

func TestValidateMissingRequiredInput(t *testing.T) {
	reg := validationTypes(t)
	w := prepared(t, Rule{
		Triggers: []Trigger{{ID: "t1", TypeUID: "v.trigger"}},
		Actions:  []Action{{ID: "a1", TypeUID: "v.action"}},
	})
	err := validateConnections(reg, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required input "text"`)
}

func TestValidateUndeclaredInput(t *testing.T) {
	reg := validationTypes(t)
	w := prepared(t, Rule{
		Triggers: []Trigger{{ID: "t1", TypeUID: "v.trigger"}},
		Actions: []Action{{ID: "a1", TypeUID: "v.action", Inputs: map[string]string{
			"text":    "t1.event",
			"unknown": "t1.event",
		}}},
	})
	err := validateConnections(reg, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"unknown" is not declared`)
}

func TestValidateUnknownSourceModule(t *testing.T) {
	reg := validationTypes(t)
	w := prepared(t, Rule{
		Triggers: []Trigger{{ID: "t1", TypeUID: "v.trigger"}},
		Actions: []Action{{ID: "a1", TypeUID: "v.action", Inputs: map[string]string{
			"text": "ghost.event",
		}}},
	})
	err := validateConnections(reg, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestValidateUndeclaredOutput(t *testing.T) {
	reg := validationTypes(t)
	w := prepared(t, Rule{
		Triggers: []Trigger{{ID: "t1", TypeUID: "v.trigger"}},
		Actions: []Action{{ID: "a1", TypeUID: "v.action", Inputs: map[string]string{
			"text": "t1.nosuch",
		}}},
	})
	err := validateConnections(reg, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `output "nosuch"`)
}

func TestValidateTypeMismatch(t *testing.T) {
	reg := validationTypes(t)
	w := prepared(t, Rule{
		Triggers: []Trigger{{ID: "t1", TypeUID: "v.trigger"}},
		Actions: []Action{{ID: "a1", TypeUID: "v.action", Inputs: map[string]string{
			"text":  "t1.event",
			"extra": "t1.event",
		}}},
	})
	err := validateConnections(reg, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot accept")
}

func TestValidateWildcardAndNestedReferences(t *testing.T) {
	reg := validationTypes(t)
	w := prepared(t, Rule{
		Triggers: []Trigger{{ID: "t1", TypeUID: "v.trigger"}},
		Actions: []Action{{ID: "a1", TypeUID: "v.action", Inputs: map[string]string{
			// wildcard output is compatible with any input type
			"text": "t1.payload",
			// nested references skip static type checks
			"extra": "t1.payload.count",
		}}},
	})
	assert.NoError(t, validateConnections(reg, w))
}

func TestValidateContextReferenceAlwaysOK(t *testing.T) {
	reg := validationTypes(t)
	w := prepared(t, Rule{
		Triggers: []Trigger{{ID: "t1", TypeUID: "v.trigger"}},
		Actions: []Action{{ID: "a1", TypeUID: "v.action", Inputs: map[string]string{
			"text": "${seed}",
		}}},
	})
	assert.NoError(t, validateConnections(reg, w))
}

func TestValidateConditionCannotUseActionOutput(t *testing.T) {
	reg := validationTypes(t)
	require.NoError(t, reg.Add(&ModuleType{
		UID:  "v.condition",
		Kind: KindCondition,
		Inputs: []Input{
			{Name: "value", Type: "*"},
		},
	}))
	w := prepared(t, Rule{
		Triggers: []Trigger{{ID: "t1", TypeUID: "v.trigger"}},
		Conditions: []Condition{{ID: "c1", TypeUID: "v.condition", Inputs: map[string]string{
			"value": "a1.length",
		}}},
		Actions: []Action{{ID: "a1", TypeUID: "v.action", Inputs: map[string]string{
			"text": "t1.event",
		}}},
	})
	err := validateConnections(reg, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `condition "c1"`)
}

func TestValidateTriggerlessRuleExempt(t *testing.T) {
	reg := validationTypes(t)
	w := prepared(t, Rule{
		Actions: []Action{{ID: "a1", TypeUID: "v.action", Inputs: map[string]string{
			"text": "ghost.event",
		}}},
	})
	assert.NoError(t, validateConnections(reg, w), "rules without triggers skip connection validation")
}

func TestValidateModuleIDs(t *testing.T) {
	w := newWrappedRule(Rule{
		Triggers: []Trigger{{ID: "ok_id-1", TypeUID: "v.trigger"}},
	})
	assert.NoError(t, validateModuleIDs(w))

	w = newWrappedRule(Rule{
		Triggers: []Trigger{{ID: "bad.id", TypeUID: "v.trigger"}},
	})
	assert.Error(t, validateModuleIDs(w))
}
