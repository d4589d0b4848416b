package ruleengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestModuleInterface(t *testing.T) {
	trigger := &Trigger{ID: "t1", TypeUID: "x.trigger", Config: map[string]any{"k": 1}}
	condition := &Condition{ID: "c1", TypeUID: "x.condition"}
	action := &Action{ID: "a1", TypeUID: "x.action"}

	var m Module = trigger
	assert.Equal(t, "t1", m.ModuleID())
	assert.Equal(t, "x.trigger", m.ModuleTypeUID())
	assert.Equal(t, KindTrigger, m.ModuleKind())
	assert.Equal(t, map[string]any{"k": 1}, m.ModuleConfig())

	assert.Equal(t, KindCondition, condition.ModuleKind())
	assert.Equal(t, KindAction, action.ModuleKind())
	assert.Nil(t, action.ModuleConfig())
}

func TestRuleFromYAML(t *testing.T) {
	src := `
uid: hallway-light
name: Hallway light
tags: [lighting, hallway]
triggers:
  - id: motion
    type: core.NATSTrigger
    config:
      subject: sensors.hallway.motion
conditions:
  - id: dark
    type: core.ExprCondition
    config:
      expression: lux < 20
    inputs:
      lux: motion.payload.lux
actions:
  - id: notify
    type: core.LogAction
    config:
      message: motion in the hallway
    inputs:
      value: motion.payload
`
	var r Rule
	require.NoError(t, yaml.Unmarshal([]byte(src), &r))
	assert.Equal(t, "hallway-light", r.UID)
	assert.Equal(t, []string{"lighting", "hallway"}, r.Tags)
	require.Len(t, r.Triggers, 1)
	assert.Equal(t, "sensors.hallway.motion", r.Triggers[0].Config["subject"])
	require.Len(t, r.Conditions, 1)
	assert.Equal(t, "motion.payload.lux", r.Conditions[0].Inputs["lux"])
	require.Len(t, r.Actions, 1)
	assert.Equal(t, "core.LogAction", r.Actions[0].TypeUID)
}
