package ruleengine

import (
	"fmt"
	"regexp"
)

var moduleIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

// validateModuleIDs rejects module IDs containing characters outside
// [A-Za-z0-9_-]; IDs take part in context keys and reference syntax.
func validateModuleIDs(w *wrappedRule) error {
	for _, m := range w.moduleRefs() {
		if !moduleIDPattern.MatchString(m.ModuleID()) {
			return fmt.Errorf("invalid module ID %q: only letters, digits, '_' and '-' are allowed", m.ModuleID())
		}
	}
	return nil
}

// validateConnections checks every condition and action connection against
// the module type metadata: referenced modules must exist in the rule,
// referenced outputs must be declared (unless drilled into with a nested
// reference), declared required inputs must be connected, and output/input
// types must be compatible. Rules without triggers are exempt.
func validateConnections(types ModuleTypeRegistry, w *wrappedRule) error {
	if len(w.triggers) == 0 {
		return nil
	}
	triggers := make(map[string]*wrappedTrigger, len(w.triggers))
	for _, t := range w.triggers {
		triggers[t.module.ID] = t
	}
	actions := make(map[string]*wrappedAction, len(w.actions))
	for _, a := range w.actions {
		actions[a.module.ID] = a
	}

	for _, c := range w.conditions {
		if err := validateModuleConnections(types, &c.module, c.connections, triggers, nil); err != nil {
			return fmt.Errorf("condition %q: %w", c.module.ID, err)
		}
	}
	for _, a := range w.actions {
		if err := validateModuleConnections(types, &a.module, a.connections, triggers, actions); err != nil {
			return fmt.Errorf("action %q: %w", a.module.ID, err)
		}
	}
	return nil
}

func validateModuleConnections(types ModuleTypeRegistry, m Module, conns map[string]Connection,
	triggers map[string]*wrappedTrigger, actions map[string]*wrappedAction) error {

	mt := types.ModuleType(m.ModuleTypeUID())
	if mt == nil {
		return fmt.Errorf("module type %q is not registered", m.ModuleTypeUID())
	}

	declared := make(map[string]Input, len(mt.Inputs))
	for _, in := range mt.Inputs {
		declared[in.Name] = in
	}

	for _, in := range mt.Inputs {
		if in.Required {
			if _, ok := conns[in.Name]; !ok {
				return fmt.Errorf("required input %q is not connected", in.Name)
			}
		}
	}

	for name, conn := range conns {
		in, ok := declared[name]
		if !ok {
			return fmt.Errorf("input %q is not declared by module type %q", name, mt.UID)
		}
		if conn.OutputModuleID == "" {
			continue // context reference, resolved at run time
		}
		var srcType *ModuleType
		if a, ok := actions[conn.OutputModuleID]; ok {
			srcType = types.ModuleType(a.module.TypeUID)
		} else if t, ok := triggers[conn.OutputModuleID]; ok {
			srcType = types.ModuleType(t.module.TypeUID)
		} else {
			return fmt.Errorf("input %q references module %q which is not a trigger or action of the rule", name, conn.OutputModuleID)
		}
		if srcType == nil {
			return fmt.Errorf("input %q references module %q with unregistered type", name, conn.OutputModuleID)
		}
		if err := checkCompatibility(in, conn, srcType); err != nil {
			return err
		}
	}
	return nil
}

func checkCompatibility(in Input, conn Connection, srcType *ModuleType) error {
	if conn.Reference != "" {
		// nested references carry no static type information
		return nil
	}
	if len(srcType.Outputs) == 0 {
		return nil
	}
	out, ok := srcType.Output(conn.OutputName)
	if !ok {
		return fmt.Errorf("input %q references output %q which module type %q does not declare", in.Name, conn.OutputName, srcType.UID)
	}
	if in.Type == "" || in.Type == "*" || out.Type == "" || out.Type == "*" || in.Type == out.Type {
		return nil
	}
	return fmt.Errorf("input %q of type %q cannot accept output %q of type %q", in.Name, in.Type, conn.OutputName, out.Type)
}
