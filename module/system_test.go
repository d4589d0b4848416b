package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/ruleengine"
)

func TestSystemStartLevelTriggerAnnounce(t *testing.T) {
	h, err := newSystemStartLevelTrigger(triggerModule("t1", ruleengine.SystemStartLevelTriggerTypeUID,
		map[string]any{ruleengine.CfgStartLevel: 40}), "r1")
	require.NoError(t, err)
	trigger := h.(*SystemStartLevelTrigger)

	trigger.Announce(50) // no callback yet, must not panic

	cb := &collectingCallback{}
	trigger.SetCallback(cb)

	trigger.Announce(30)
	assert.Zero(t, cb.count(), "levels below the configured one do not fire")

	trigger.Announce(40)
	require.Equal(t, 1, cb.count())
	outputs, module := cb.last()
	assert.Equal(t, "t1", module.ID)
	assert.Equal(t, 40, outputs[ruleengine.OutStartLevel])

	trigger.Dispose()
	trigger.Announce(100)
	assert.Equal(t, 1, cb.count(), "a disposed trigger stays silent")
}

func TestSystemStartLevelTriggerDefaultsAndErrors(t *testing.T) {
	h, err := newSystemStartLevelTrigger(triggerModule("t1", ruleengine.SystemStartLevelTriggerTypeUID, nil), "r1")
	require.NoError(t, err)
	assert.Equal(t, ruleengine.StartLevelRules, h.(*SystemStartLevelTrigger).level)

	h, err = newSystemStartLevelTrigger(triggerModule("t1", ruleengine.SystemStartLevelTriggerTypeUID,
		map[string]any{ruleengine.CfgStartLevel: float64(80)}), "r1")
	require.NoError(t, err)
	assert.Equal(t, 80, h.(*SystemStartLevelTrigger).level)

	_, err = newSystemStartLevelTrigger(actionModule("a1", ruleengine.SystemStartLevelTriggerTypeUID, nil), "r1")
	assert.Error(t, err)
}
