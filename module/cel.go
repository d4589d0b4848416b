package module

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/GoCodeAlone/ruleengine"
)

// CELConditionTypeUID evaluates a CEL expression. The rule context is bound
// to the "inputs" variable, so expressions read values as
// `inputs.temperature` or `inputs["sensor.value"]`; config: "expression".
const CELConditionTypeUID = "core.CELCondition"

// celCostLimit caps expression evaluation cost.
const celCostLimit = 1_000_000

// CELCondition is satisfied when its CEL expression evaluates to true.
// Non-boolean results are treated as false.
type CELCondition struct {
	baseHandler
	program cel.Program
}

func newCELCondition(m ruleengine.Module, ruleUID string) (ruleengine.ModuleHandler, error) {
	src, err := configString(m, "expression")
	if err != nil {
		return nil, err
	}
	env, err := cel.NewEnv(
		cel.Variable("inputs", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling CEL expression: %w", issues.Err())
	}
	program, err := env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("building CEL program: %w", err)
	}
	return &CELCondition{baseHandler: baseHandler{module: m, ruleUID: ruleUID}, program: program}, nil
}

// IsSatisfied implements ruleengine.ConditionHandler.
func (h *CELCondition) IsSatisfied(inputs map[string]any) (bool, error) {
	out, _, err := h.program.Eval(map[string]any{"inputs": inputs})
	if err != nil {
		return false, fmt.Errorf("evaluating CEL expression: %w", err)
	}
	b, _ := out.Value().(bool)
	return b, nil
}
