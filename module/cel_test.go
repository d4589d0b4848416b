package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/ruleengine"
)

func TestCELCondition(t *testing.T) {
	h, err := newCELCondition(conditionModule("c1", CELConditionTypeUID, map[string]any{
		"expression": `inputs.state == "open" && inputs.count > 2`,
	}), "r1")
	require.NoError(t, err)
	cond := h.(ruleengine.ConditionHandler)

	ok, err := cond.IsSatisfied(map[string]any{"state": "open", "count": 3})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cond.IsSatisfied(map[string]any{"state": "closed", "count": 3})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCELConditionDottedContextKeys(t *testing.T) {
	h, err := newCELCondition(conditionModule("c1", CELConditionTypeUID, map[string]any{
		"expression": `inputs["t1.event"] == "motion"`,
	}), "r1")
	require.NoError(t, err)
	ok, err := h.(ruleengine.ConditionHandler).IsSatisfied(map[string]any{"t1.event": "motion"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCELConditionNonBooleanIsFalse(t *testing.T) {
	h, err := newCELCondition(conditionModule("c1", CELConditionTypeUID, map[string]any{
		"expression": `"just a string"`,
	}), "r1")
	require.NoError(t, err)
	ok, err := h.(ruleengine.ConditionHandler).IsSatisfied(map[string]any{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCELConditionErrors(t *testing.T) {
	_, err := newCELCondition(conditionModule("c1", CELConditionTypeUID, map[string]any{
		"expression": "inputs.",
	}), "r1")
	assert.Error(t, err, "broken expressions fail at construction")

	_, err = newCELCondition(conditionModule("c1", CELConditionTypeUID, nil), "r1")
	assert.Error(t, err)

	h, err := newCELCondition(conditionModule("c1", CELConditionTypeUID, map[string]any{
		"expression": "inputs.missing == 1",
	}), "r1")
	require.NoError(t, err)
	_, err = h.(ruleengine.ConditionHandler).IsSatisfied(map[string]any{})
	assert.Error(t, err, "absent keys surface as evaluation errors")
}
