package ruleengine

// ModuleHandler is the common surface of all module handlers. Dispose is
// called exactly once when the handler is released.
type ModuleHandler interface {
	Dispose()
}

// TriggerCallback is handed to trigger handlers; they call Triggered whenever
// the trigger fires. Calls are non-blocking: firings are queued per rule and
// executed in order on a dedicated goroutine.
type TriggerCallback interface {
	Triggered(t *Trigger, outputs map[string]any)
}

// TriggerHandler reacts to external stimuli and fires the callback.
// SetCallback(nil) detaches the handler; it must stop firing afterwards.
type TriggerHandler interface {
	ModuleHandler
	SetCallback(cb TriggerCallback)
}

// ConditionHandler decides whether actions may run. The inputs map is the
// rule context snapshot with resolved input values merged in under the
// declared input names.
type ConditionHandler interface {
	ModuleHandler
	IsSatisfied(inputs map[string]any) (bool, error)
}

// ActionHandler performs the rule's effect. Returned outputs are merged into
// the rule context keyed "moduleId.outputName".
type ActionHandler interface {
	ModuleHandler
	Execute(inputs map[string]any) (map[string]any, error)
}

// RunOptions tune an on-demand execution.
type RunOptions struct {
	// ConsiderConditions runs the rule's conditions before the actions.
	ConsiderConditions bool
	// StopOnFirstFail aborts the action chain on the first failing action and
	// propagates the error to the caller.
	StopOnFirstFail bool
	// Context pre-populates the rule context for this run.
	Context map[string]any
}

// RuleCallback exposes engine operations to condition and action handlers.
// The engine implements it; handlers that also implement RuleCallbackReceiver
// get it injected at registration time.
type RuleCallback interface {
	IsEnabled(ruleUID string) (bool, error)
	SetEnabled(ruleUID string, enabled bool) error
	Status(ruleUID string) (RuleStatus, error)
	StatusInfo(ruleUID string) (RuleStatusInfo, error)
	RunNow(ruleUID string) error
	RunNowWith(ruleUID string, opts RunOptions) error
}

// RuleCallbackReceiver is implemented by condition/action handlers that need
// access to engine operations.
type RuleCallbackReceiver interface {
	SetRuleCallback(cb RuleCallback)
}

// HandlerFactory creates handlers for the module type UIDs it announces.
// Handler returns nil with nil error when it cannot serve the module; the
// engine treats that as a missing handler.
type HandlerFactory interface {
	Types() []string
	Handler(m Module, ruleUID string) (ModuleHandler, error)
	Release(m Module, ruleUID string, h ModuleHandler)
}

// HandlerResolver resolves a handler for an arbitrary module through the
// engine's factory table. The composite factory uses it to bind child
// modules.
type HandlerResolver interface {
	ResolveHandler(m Module, ruleUID string) (ModuleHandler, error)
	ReleaseHandler(m Module, ruleUID string, h ModuleHandler)
}

// DisabledStore persists explicit disablement across restarts.
type DisabledStore interface {
	IsDisabled(ruleUID string) bool
	SetDisabled(ruleUID string, disabled bool) error
}
