package module

import "github.com/GoCodeAlone/ruleengine"

// CoreModuleTypes returns the metadata for the built-in module types served
// by NewCoreFactory and NewNATSFactory.
func CoreModuleTypes() []*ruleengine.ModuleType {
	return []*ruleengine.ModuleType{
		{
			UID:   ExprConditionTypeUID,
			Kind:  ruleengine.KindCondition,
			Label: "Expression condition",
			Inputs: []ruleengine.Input{
				{Name: "value", Type: "*"},
			},
		},
		{
			UID:   ExprTransformTypeUID,
			Kind:  ruleengine.KindAction,
			Label: "Expression transform",
			Inputs: []ruleengine.Input{
				{Name: "value", Type: "*"},
			},
			Outputs: []ruleengine.Output{
				{Name: "result", Type: "*"},
			},
		},
		{
			UID:   CELConditionTypeUID,
			Kind:  ruleengine.KindCondition,
			Label: "CEL condition",
			Inputs: []ruleengine.Input{
				{Name: "value", Type: "*"},
			},
		},
		{
			UID:   JQTransformTypeUID,
			Kind:  ruleengine.KindAction,
			Label: "jq transform",
			Inputs: []ruleengine.Input{
				{Name: "value", Type: "*"},
			},
			Outputs: []ruleengine.Output{
				{Name: "result", Type: "*"},
			},
		},
		{
			UID:   LogActionTypeUID,
			Kind:  ruleengine.KindAction,
			Label: "Log action",
			Inputs: []ruleengine.Input{
				{Name: "value", Type: "*"},
			},
		},
		{
			UID:   IntervalTriggerTypeUID,
			Kind:  ruleengine.KindTrigger,
			Label: "Interval trigger",
			Outputs: []ruleengine.Output{
				{Name: "firedAt", Type: "time"},
				{Name: "count", Type: "number"},
			},
		},
		{
			UID:   NATSTriggerTypeUID,
			Kind:  ruleengine.KindTrigger,
			Label: "NATS subject trigger",
			Outputs: []ruleengine.Output{
				{Name: "subject", Type: "string"},
				{Name: "payload", Type: "*"},
			},
		},
		{
			UID:   ruleengine.SystemStartLevelTriggerTypeUID,
			Kind:  ruleengine.KindTrigger,
			Label: "System start-level trigger",
			Outputs: []ruleengine.Output{
				{Name: ruleengine.OutStartLevel, Type: "number"},
			},
		},
	}
}

// RegisterCoreTypes adds the built-in module types to a registry.
func RegisterCoreTypes(reg *ruleengine.MemoryTypeRegistry) error {
	for _, t := range CoreModuleTypes() {
		if err := reg.Add(t); err != nil {
			return err
		}
	}
	return nil
}
