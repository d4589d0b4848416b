package module

import (
	"fmt"
	"maps"
	"strings"

	"github.com/GoCodeAlone/ruleengine"
)

// CompositeFactory serves composite module types: types that declare child
// trigger/condition/action modules instead of native behavior. Child
// handlers are bound through the engine's HandlerResolver, so children may
// themselves be composite. The engine consults this factory as a fallback
// for any composite type without a dedicated factory.
type CompositeFactory struct {
	types    ruleengine.ModuleTypeRegistry
	resolver ruleengine.HandlerResolver
}

func NewCompositeFactory(types ruleengine.ModuleTypeRegistry, resolver ruleengine.HandlerResolver) *CompositeFactory {
	return &CompositeFactory{types: types, resolver: resolver}
}

// Types implements ruleengine.HandlerFactory. The composite factory is a
// fallback; it announces no types of its own.
func (f *CompositeFactory) Types() []string { return nil }

// Handler implements ruleengine.HandlerFactory.
func (f *CompositeFactory) Handler(m ruleengine.Module, ruleUID string) (ruleengine.ModuleHandler, error) {
	mt := f.types.ModuleType(m.ModuleTypeUID())
	if !mt.IsComposite() {
		return nil, fmt.Errorf("module type %q is not composite", m.ModuleTypeUID())
	}
	// children get a scoped UID so nested composites stay distinguishable
	childUID := ruleUID + ":" + m.ModuleID()
	switch m.ModuleKind() {
	case ruleengine.KindTrigger:
		return f.newCompositeTrigger(m, mt, childUID)
	case ruleengine.KindCondition:
		return f.newCompositeCondition(m, mt, childUID)
	case ruleengine.KindAction:
		return f.newCompositeAction(m, mt, childUID)
	default:
		return nil, fmt.Errorf("unknown module kind %q", m.ModuleKind())
	}
}

// Release implements ruleengine.HandlerFactory. Child handlers are released
// by the composite handler's Dispose.
func (f *CompositeFactory) Release(_ ruleengine.Module, _ string, h ruleengine.ModuleHandler) {
	if h != nil {
		h.Dispose()
	}
}

// resolveChildConfig substitutes "${key}" strings in a child's config with
// values from the composite module's own config.
func resolveChildConfig(child, parent map[string]any) map[string]any {
	if len(child) == 0 {
		return child
	}
	out := make(map[string]any, len(child))
	for k, v := range child {
		if s, ok := v.(string); ok {
			if key, isRef := trimRef(s); isRef {
				if pv, present := parent[key]; present {
					out[k] = pv
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

// trimRef unwraps "${...}" references. Unlike plain context references,
// composite references may contain dots ("${childId.out}").
func trimRef(s string) (string, bool) {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") && len(s) > 3 {
		return s[2 : len(s)-1], true
	}
	return "", false
}

// childInputContext builds the context a child sees: the composite's
// context, the child's resolved config, and each declared child input
// resolved against that context. Resolved inputs win over config keys.
func childInputContext(config map[string]any, inputs map[string]string, composite map[string]any) map[string]any {
	ctx := maps.Clone(composite)
	if ctx == nil {
		ctx = make(map[string]any)
	}
	for k, v := range config {
		ctx[k] = v
	}
	for name, ref := range inputs {
		if key, isRef := trimRef(strings.TrimSpace(ref)); isRef {
			if v, ok := ctx[key]; ok {
				ctx[name] = v
			}
			continue
		}
		// "childId.out" style references read sibling outputs directly
		if v, ok := ctx[strings.TrimSpace(ref)]; ok {
			ctx[name] = v
		}
	}
	return ctx
}

// compositeOutputs projects the internal context onto the composite type's
// declared outputs via their references. Outputs without a reference are
// passed through from the internal context by name.
func compositeOutputs(mt *ruleengine.ModuleType, internal map[string]any) map[string]any {
	out := make(map[string]any, len(mt.Outputs))
	for _, o := range mt.Outputs {
		if o.Reference != "" {
			key, isRef := trimRef(o.Reference)
			if !isRef {
				key = o.Reference
			}
			if v, ok := internal[key]; ok {
				out[o.Name] = v
			}
			continue
		}
		if v, ok := internal[o.Name]; ok {
			out[o.Name] = v
		}
	}
	return out
}

// --- condition ---

type compositeChildCondition struct {
	module  ruleengine.Condition
	handler ruleengine.ConditionHandler
}

type compositeCondition struct {
	factory  *CompositeFactory
	config   map[string]any
	childUID string
	children []compositeChildCondition
}

func (f *CompositeFactory) newCompositeCondition(m ruleengine.Module, mt *ruleengine.ModuleType, childUID string) (ruleengine.ModuleHandler, error) {
	h := &compositeCondition{factory: f, config: m.ModuleConfig(), childUID: childUID}
	for _, child := range mt.Composite.Conditions {
		child.Config = resolveChildConfig(child.Config, m.ModuleConfig())
		ch, err := f.resolveChild(&child, childUID)
		if err != nil {
			h.Dispose()
			return nil, err
		}
		handler, ok := ch.(ruleengine.ConditionHandler)
		if !ok {
			f.resolver.ReleaseHandler(&child, childUID, ch)
			h.Dispose()
			return nil, fmt.Errorf("child %q of composite type %q is not a condition handler", child.ID, mt.UID)
		}
		h.children = append(h.children, compositeChildCondition{module: child, handler: handler})
	}
	return h, nil
}

func (f *CompositeFactory) resolveChild(m ruleengine.Module, childUID string) (ruleengine.ModuleHandler, error) {
	ch, err := f.resolver.ResolveHandler(m, childUID)
	if err != nil {
		return nil, fmt.Errorf("binding composite child %q: %w", m.ModuleID(), err)
	}
	return ch, nil
}

// IsSatisfied implements ruleengine.ConditionHandler: all children must be
// satisfied.
func (h *compositeCondition) IsSatisfied(inputs map[string]any) (bool, error) {
	composite := maps.Clone(inputs)
	for k, v := range h.config {
		if _, taken := composite[k]; !taken {
			composite[k] = v
		}
	}
	for i := range h.children {
		child := &h.children[i]
		ok, err := child.handler.IsSatisfied(childInputContext(child.module.Config, child.module.Inputs, composite))
		if err != nil {
			return false, fmt.Errorf("composite child %q: %w", child.module.ID, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (h *compositeCondition) Dispose() {
	for i := range h.children {
		child := &h.children[i]
		h.factory.resolver.ReleaseHandler(&child.module, h.childUID, child.handler)
	}
	h.children = nil
}

// --- action ---

type compositeChildAction struct {
	module  ruleengine.Action
	handler ruleengine.ActionHandler
}

type compositeAction struct {
	factory  *CompositeFactory
	mt       *ruleengine.ModuleType
	config   map[string]any
	childUID string
	children []compositeChildAction
}

func (f *CompositeFactory) newCompositeAction(m ruleengine.Module, mt *ruleengine.ModuleType, childUID string) (ruleengine.ModuleHandler, error) {
	h := &compositeAction{factory: f, mt: mt, config: m.ModuleConfig(), childUID: childUID}
	for _, child := range mt.Composite.Actions {
		child.Config = resolveChildConfig(child.Config, m.ModuleConfig())
		ch, err := f.resolveChild(&child, childUID)
		if err != nil {
			h.Dispose()
			return nil, err
		}
		handler, ok := ch.(ruleengine.ActionHandler)
		if !ok {
			f.resolver.ReleaseHandler(&child, childUID, ch)
			h.Dispose()
			return nil, fmt.Errorf("child %q of composite type %q is not an action handler", child.ID, mt.UID)
		}
		h.children = append(h.children, compositeChildAction{module: child, handler: handler})
	}
	return h, nil
}

// Execute implements ruleengine.ActionHandler. Children run in order; each
// child's outputs join the internal context keyed "childId.outputName", and
// the composite's declared outputs are projected from it at the end.
func (h *compositeAction) Execute(inputs map[string]any) (map[string]any, error) {
	internal := maps.Clone(inputs)
	for k, v := range h.config {
		if _, taken := internal[k]; !taken {
			internal[k] = v
		}
	}
	for i := range h.children {
		child := &h.children[i]
		outputs, err := child.handler.Execute(childInputContext(child.module.Config, child.module.Inputs, internal))
		if err != nil {
			return nil, fmt.Errorf("composite child %q: %w", child.module.ID, err)
		}
		for name, v := range outputs {
			internal[child.module.ID+ruleengine.OutputSeparator+name] = v
		}
	}
	return compositeOutputs(h.mt, internal), nil
}

func (h *compositeAction) Dispose() {
	for i := range h.children {
		child := &h.children[i]
		h.factory.resolver.ReleaseHandler(&child.module, h.childUID, child.handler)
	}
	h.children = nil
}

// --- trigger ---

type compositeChildTrigger struct {
	module  ruleengine.Trigger
	handler ruleengine.TriggerHandler
}

type compositeTrigger struct {
	factory  *CompositeFactory
	module   *ruleengine.Trigger
	mt       *ruleengine.ModuleType
	childUID string
	children []compositeChildTrigger
}

func (f *CompositeFactory) newCompositeTrigger(m ruleengine.Module, mt *ruleengine.ModuleType, childUID string) (ruleengine.ModuleHandler, error) {
	trigger, ok := m.(*ruleengine.Trigger)
	if !ok {
		return nil, fmt.Errorf("module %q is not a trigger", m.ModuleID())
	}
	h := &compositeTrigger{factory: f, module: trigger, mt: mt, childUID: childUID}
	for _, child := range mt.Composite.Triggers {
		child.Config = resolveChildConfig(child.Config, m.ModuleConfig())
		ch, err := f.resolveChild(&child, childUID)
		if err != nil {
			h.Dispose()
			return nil, err
		}
		handler, ok := ch.(ruleengine.TriggerHandler)
		if !ok {
			f.resolver.ReleaseHandler(&child, childUID, ch)
			h.Dispose()
			return nil, fmt.Errorf("child %q of composite type %q is not a trigger handler", child.ID, mt.UID)
		}
		h.children = append(h.children, compositeChildTrigger{module: child, handler: handler})
	}
	return h, nil
}

// SetCallback implements ruleengine.TriggerHandler. Child firings are
// translated into composite firings: child outputs become internal context
// entries "childId.outputName", and the composite's declared outputs are
// projected from them.
func (h *compositeTrigger) SetCallback(cb ruleengine.TriggerCallback) {
	if cb == nil {
		for i := range h.children {
			h.children[i].handler.SetCallback(nil)
		}
		return
	}
	for i := range h.children {
		child := &h.children[i]
		child.handler.SetCallback(&compositeTriggerRelay{parent: h, childID: child.module.ID, cb: cb})
	}
}

type compositeTriggerRelay struct {
	parent  *compositeTrigger
	childID string
	cb      ruleengine.TriggerCallback
}

// Triggered implements ruleengine.TriggerCallback for one child trigger.
func (r *compositeTriggerRelay) Triggered(_ *ruleengine.Trigger, outputs map[string]any) {
	internal := make(map[string]any, len(outputs))
	for name, v := range outputs {
		internal[r.childID+ruleengine.OutputSeparator+name] = v
	}
	r.cb.Triggered(r.parent.module, compositeOutputs(r.parent.mt, internal))
}

func (h *compositeTrigger) Dispose() {
	for i := range h.children {
		child := &h.children[i]
		child.handler.SetCallback(nil)
		h.factory.resolver.ReleaseHandler(&child.module, h.childUID, child.handler)
	}
	h.children = nil
}
