package module

import (
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/GoCodeAlone/ruleengine"
)

// JQTransformTypeUID is an action applying a jq query to the rule context.
// A map result is merged as outputs; any other result is published as
// output "result"; config: "query".
const JQTransformTypeUID = "core.JQTransform"

// JQTransform applies a compiled jq query to its inputs. Only the first
// produced value is used.
type JQTransform struct {
	baseHandler
	code *gojq.Code
}

func newJQTransform(m ruleengine.Module, ruleUID string) (ruleengine.ModuleHandler, error) {
	src, err := configString(m, "query")
	if err != nil {
		return nil, err
	}
	query, err := gojq.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parsing jq query: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compiling jq query: %w", err)
	}
	return &JQTransform{baseHandler: baseHandler{module: m, ruleUID: ruleUID}, code: code}, nil
}

// Execute implements ruleengine.ActionHandler.
func (h *JQTransform) Execute(inputs map[string]any) (map[string]any, error) {
	iter := h.code.Run(map[string]any(inputs))
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("running jq query: %w", err)
	}
	if m, isMap := v.(map[string]any); isMap {
		return m, nil
	}
	return map[string]any{"result": v}, nil
}
