package ruleengine

// The engine never mutates a caller's Rule. Each managed rule is wrapped,
// and connections inferred by auto-mapping live on the wrappers, in three
// category-specific variants so each carries its typed handler.

type wrappedTrigger struct {
	module  Trigger
	handler TriggerHandler
}

type wrappedCondition struct {
	module      Condition
	connections map[string]Connection
	handler     ConditionHandler
}

type wrappedAction struct {
	module      Action
	connections map[string]Connection
	handler     ActionHandler
}

type wrappedRule struct {
	rule       Rule
	status     RuleStatusInfo
	triggers   []*wrappedTrigger
	conditions []*wrappedCondition
	actions    []*wrappedAction
}

func newWrappedRule(r Rule) *wrappedRule {
	w := &wrappedRule{
		rule:   r,
		status: RuleStatusInfo{Status: StatusUninitialized, Detail: DetailNone},
	}
	for i := range r.Triggers {
		w.triggers = append(w.triggers, &wrappedTrigger{module: r.Triggers[i]})
	}
	for i := range r.Conditions {
		w.conditions = append(w.conditions, &wrappedCondition{module: r.Conditions[i]})
	}
	for i := range r.Actions {
		w.actions = append(w.actions, &wrappedAction{module: r.Actions[i]})
	}
	return w
}

// moduleRefs returns every module definition of the rule as the common
// Module interface, triggers first.
func (w *wrappedRule) moduleRefs() []Module {
	refs := make([]Module, 0, len(w.triggers)+len(w.conditions)+len(w.actions))
	for _, t := range w.triggers {
		refs = append(refs, &t.module)
	}
	for _, c := range w.conditions {
		refs = append(refs, &c.module)
	}
	for _, a := range w.actions {
		refs = append(refs, &a.module)
	}
	return refs
}
