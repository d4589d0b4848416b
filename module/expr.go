package module

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/GoCodeAlone/ruleengine"
)

const (
	// ExprConditionTypeUID evaluates an expr-lang expression against the
	// rule context; config: "expression".
	ExprConditionTypeUID = "core.ExprCondition"
	// ExprTransformTypeUID is an action evaluating an expr-lang expression;
	// the result is published as output "result" (or merged when the
	// expression yields a map); config: "expression".
	ExprTransformTypeUID = "core.ExprTransform"
)

// ExprCondition is satisfied when its expression evaluates to true. Input
// values appear as variables under their input names.
type ExprCondition struct {
	baseHandler
	program *vm.Program
}

func newExprCondition(m ruleengine.Module, ruleUID string) (ruleengine.ModuleHandler, error) {
	src, err := configString(m, "expression")
	if err != nil {
		return nil, err
	}
	program, err := expr.Compile(src, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling expression: %w", err)
	}
	return &ExprCondition{baseHandler: baseHandler{module: m, ruleUID: ruleUID}, program: program}, nil
}

// IsSatisfied implements ruleengine.ConditionHandler.
func (h *ExprCondition) IsSatisfied(inputs map[string]any) (bool, error) {
	out, err := expr.Run(h.program, inputs)
	if err != nil {
		return false, fmt.Errorf("evaluating expression: %w", err)
	}
	b, _ := out.(bool)
	return b, nil
}

// ExprTransform computes a value from the rule context.
type ExprTransform struct {
	baseHandler
	program *vm.Program
}

func newExprTransform(m ruleengine.Module, ruleUID string) (ruleengine.ModuleHandler, error) {
	src, err := configString(m, "expression")
	if err != nil {
		return nil, err
	}
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compiling expression: %w", err)
	}
	return &ExprTransform{baseHandler: baseHandler{module: m, ruleUID: ruleUID}, program: program}, nil
}

// Execute implements ruleengine.ActionHandler.
func (h *ExprTransform) Execute(inputs map[string]any) (map[string]any, error) {
	out, err := expr.Run(h.program, inputs)
	if err != nil {
		return nil, fmt.Errorf("evaluating expression: %w", err)
	}
	if m, ok := out.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"result": out}, nil
}
