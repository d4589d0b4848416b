package ruleengine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// System start-level trigger support. Rules carrying this trigger with a
// startlevel at or below the engine's run level fire once when the engine
// starts.
const (
	SystemStartLevelTriggerTypeUID = "core.SystemStartLevelTrigger"
	CfgStartLevel                  = "startlevel"
	OutStartLevel                  = "startlevel"

	// StartLevelRules is the conventional start level of rule activation.
	StartLevelRules = 40
	// DefaultRunLevel is the engine's default run level at startup.
	DefaultRunLevel = 50
)

// DefaultRetryDelay is the delay before a failed rule initialization is
// retried.
const DefaultRetryDelay = 500 * time.Millisecond

// RuleEngine manages rule lifecycles: validation, connection auto-mapping,
// handler binding through pluggable factories, and trigger-driven execution
// with per-rule status tracking.
//
// Rules execute single-flight: a rule only starts running from the Idle
// status, and the Idle-to-Running transition happens atomically under the
// engine lock. The execution body itself runs without the lock held.
type RuleEngine struct {
	source string
	logger *slog.Logger
	types  ModuleTypeRegistry

	mu           sync.Mutex
	rules        map[string]*wrappedRule
	callbacks    map[string]*triggerCallback
	factories    map[string]HandlerFactory
	allFactories []HandlerFactory
	typeIndex    map[string]map[string]struct{}
	retryTimers  map[string]*time.Timer
	started      bool
	disposed     bool

	retryDelay time.Duration
	runLevel   int

	disabled  DisabledStore
	publisher StatusPublisher
	metrics   MetricsRecorder
	composite HandlerFactory

	contexts *contextStore

	ruleRegistry RuleRegistry
}

// New creates an engine over the given module type registry. A nil logger
// falls back to slog.Default().
func New(types ModuleTypeRegistry, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{
		source:      "ruleengine",
		logger:      logger,
		types:       types,
		rules:       make(map[string]*wrappedRule),
		callbacks:   make(map[string]*triggerCallback),
		factories:   make(map[string]HandlerFactory),
		typeIndex:   make(map[string]map[string]struct{}),
		retryTimers: make(map[string]*time.Timer),
		retryDelay:  DefaultRetryDelay,
		runLevel:    DefaultRunLevel,
		contexts:    newContextStore(),
	}
}

// SetDisabledStore installs persistence for explicit disablement. Configure
// before rules are added.
func (e *RuleEngine) SetDisabledStore(s DisabledStore) { e.disabled = s }

// SetStatusPublisher installs the status event sink. Configure before Start.
func (e *RuleEngine) SetStatusPublisher(p StatusPublisher) { e.publisher = p }

// SetMetrics installs the metrics recorder. Configure before Start.
func (e *RuleEngine) SetMetrics(m MetricsRecorder) { e.metrics = m }

// SetRetryDelay overrides the initialization retry delay.
func (e *RuleEngine) SetRetryDelay(d time.Duration) {
	e.mu.Lock()
	e.retryDelay = d
	e.mu.Unlock()
}

// SetRunLevel sets the start level the engine reports when it starts.
func (e *RuleEngine) SetRunLevel(level int) {
	e.mu.Lock()
	e.runLevel = level
	e.mu.Unlock()
}

// SetCompositeFactory installs the fallback factory consulted for composite
// module types that no registered factory serves.
func (e *RuleEngine) SetCompositeFactory(f HandlerFactory) {
	e.mu.Lock()
	e.composite = f
	e.mu.Unlock()
}

// AttachRuleRegistry subscribes the engine to a rule registry and adopts its
// current rules.
func (e *RuleEngine) AttachRuleRegistry(rr RuleRegistry) {
	e.ruleRegistry = rr
	rr.AddListener(e)
	for _, r := range rr.All() {
		if _, err := e.AddRule(r); err != nil {
			e.logger.Warn("failed to adopt rule from registry", "rule", r.UID, "error", err)
		}
	}
}

// RuleAdded implements RuleListener.
func (e *RuleEngine) RuleAdded(r Rule) {
	if _, err := e.AddRule(r); err != nil {
		e.logger.Warn("failed to add rule", "rule", r.UID, "error", err)
	}
}

// RuleUpdated implements RuleListener. The updated definition replaces the
// managed rule and goes through the full initialization pipeline.
func (e *RuleEngine) RuleUpdated(_, updated Rule) {
	if _, err := e.AddRule(updated); err != nil {
		e.logger.Warn("failed to update rule", "rule", updated.UID, "error", err)
	}
}

// RuleRemoved implements RuleListener.
func (e *RuleEngine) RuleRemoved(r Rule) { e.RemoveRule(r.UID) }

// AddRule puts a rule under engine management and initializes it unless it
// is persistently disabled. An existing rule with the same UID is replaced.
// Returns the rule UID, generated when the definition carries none.
func (e *RuleEngine) AddRule(rule Rule) (string, error) {
	if rule.UID == "" {
		rule.UID = uuid.NewString()
	}
	uid := rule.UID
	w := newWrappedRule(rule)
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return "", ErrEngineDisposed
	}
	old := e.rules[uid]
	e.rules[uid] = w
	e.mu.Unlock()
	if old != nil {
		e.unbindRule(uid, old)
	}
	if e.isDisabled(uid) {
		e.setStatus(uid, w, RuleStatusInfo{Status: StatusUninitialized, Detail: DetailDisabled})
		return uid, nil
	}
	e.initializeRule(w)
	return uid, nil
}

// RemoveRule takes a rule out of management, releasing its handlers.
// Reports whether the rule was managed.
func (e *RuleEngine) RemoveRule(uid string) bool {
	e.mu.Lock()
	w := e.rules[uid]
	if w == nil {
		e.mu.Unlock()
		return false
	}
	delete(e.rules, uid)
	for _, uids := range e.typeIndex {
		delete(uids, uid)
	}
	t := e.retryTimers[uid]
	delete(e.retryTimers, uid)
	e.mu.Unlock()
	if t != nil {
		t.Stop()
	}
	e.unbindRule(uid, w)
	return true
}

// SetEnabled enables or disables a rule. Disabling releases handlers and
// records the Disabled detail; enabling re-runs initialization. Both
// directions are idempotent.
func (e *RuleEngine) SetEnabled(uid string, enabled bool) error {
	e.mu.Lock()
	w := e.rules[uid]
	e.mu.Unlock()
	if w == nil {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, uid)
	}
	if e.disabled != nil {
		if err := e.disabled.SetDisabled(uid, !enabled); err != nil {
			e.logger.Warn("failed to persist enablement", "rule", uid, "error", err)
		}
	}
	if enabled {
		if e.statusOf(uid, w) == StatusUninitialized {
			e.initializeRule(w)
		}
		return nil
	}
	e.cancelRetry(uid)
	e.mu.Lock()
	alreadyDisabled := e.rules[uid] == w &&
		w.status.Status == StatusUninitialized && w.status.Detail == DetailDisabled
	e.mu.Unlock()
	if alreadyDisabled {
		return nil
	}
	e.unbindRule(uid, w)
	e.setStatus(uid, w, RuleStatusInfo{Status: StatusUninitialized, Detail: DetailDisabled})
	return nil
}

// IsEnabled reports whether the rule is not explicitly disabled.
func (e *RuleEngine) IsEnabled(uid string) (bool, error) {
	info, err := e.StatusInfo(uid)
	if err != nil {
		return false, err
	}
	if e.disabled != nil {
		return !e.disabled.IsDisabled(uid), nil
	}
	return info.Detail != DetailDisabled, nil
}

// Status returns the rule's current status.
func (e *RuleEngine) Status(uid string) (RuleStatus, error) {
	info, err := e.StatusInfo(uid)
	return info.Status, err
}

// StatusInfo returns the rule's current status snapshot.
func (e *RuleEngine) StatusInfo(uid string) (RuleStatusInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.rules[uid]
	if w == nil {
		return RuleStatusInfo{}, fmt.Errorf("%w: %s", ErrRuleNotFound, uid)
	}
	return w.status, nil
}

// RuleUIDs lists the managed rule UIDs, sorted.
func (e *RuleEngine) RuleUIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	uids := make([]string, 0, len(e.rules))
	for uid := range e.rules {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	return uids
}

// AddHandlerFactory registers a handler factory and schedules
// initialization of uninitialized rules that use its types.
func (e *RuleEngine) AddHandlerFactory(f HandlerFactory) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.allFactories = append(e.allFactories, f)
	affected := make(map[string]struct{})
	for _, t := range f.Types() {
		e.factories[t] = f
		for uid := range e.typeIndex[t] {
			affected[uid] = struct{}{}
		}
	}
	e.mu.Unlock()
	for uid := range affected {
		e.scheduleInitializationIfPending(uid)
	}
}

// RemoveHandlerFactory deregisters a factory. Active rules using its types
// are unbound and marked with the HandlerMissingError detail.
func (e *RuleEngine) RemoveHandlerFactory(f HandlerFactory) {
	e.mu.Lock()
	for i, x := range e.allFactories {
		if x == f {
			e.allFactories = append(e.allFactories[:i], e.allFactories[i+1:]...)
			break
		}
	}
	types := f.Types()
	affected := make(map[string]*wrappedRule)
	for _, t := range types {
		if e.factories[t] == f {
			delete(e.factories, t)
		}
		for uid := range e.typeIndex[t] {
			affected[uid] = e.rules[uid]
		}
	}
	e.mu.Unlock()
	for uid, w := range affected {
		if w == nil {
			continue
		}
		st := e.statusOf(uid, w)
		if st != StatusIdle && st != StatusRunning {
			continue
		}
		e.unbindRule(uid, w)
		e.setStatus(uid, w, RuleStatusInfo{
			Status:  StatusUninitialized,
			Detail:  DetailHandlerMissingError,
			Message: fmt.Sprintf("handler factory for types [%s] removed", strings.Join(types, ", ")),
		})
	}
}

// ModuleTypeAdded implements ModuleTypeListener. Rules waiting on the type
// are scheduled for initialization.
func (e *RuleEngine) ModuleTypeAdded(t *ModuleType) {
	if t == nil {
		return
	}
	e.mu.Lock()
	if e.factories[t.UID] == nil {
		for _, f := range e.allFactories {
			if slices.Contains(f.Types(), t.UID) {
				e.factories[t.UID] = f
				break
			}
		}
	}
	uids := make([]string, 0, len(e.typeIndex[t.UID]))
	for uid := range e.typeIndex[t.UID] {
		uids = append(uids, uid)
	}
	e.mu.Unlock()
	for _, uid := range uids {
		e.scheduleInitializationIfPending(uid)
	}
}

// ModuleTypeUpdated implements ModuleTypeListener. Active rules using the
// type are unbound and re-initialized against the new metadata.
func (e *RuleEngine) ModuleTypeUpdated(old, updated *ModuleType) {
	if updated == nil || reflect.DeepEqual(old, updated) {
		return
	}
	e.mu.Lock()
	affected := make(map[string]*wrappedRule)
	for uid := range e.typeIndex[updated.UID] {
		affected[uid] = e.rules[uid]
	}
	e.mu.Unlock()
	for uid, w := range affected {
		if w == nil {
			continue
		}
		st := e.statusOf(uid, w)
		if st != StatusIdle && st != StatusRunning {
			continue
		}
		e.unbindRule(uid, w)
		e.setStatus(uid, w, RuleStatusInfo{
			Status:  StatusUninitialized,
			Detail:  DetailHandlerMissingError,
			Message: fmt.Sprintf("module type %q updated", updated.UID),
		})
		e.scheduleInitialization(uid)
	}
}

// ModuleTypeRemoved implements ModuleTypeListener. Active rules keep their
// bound handlers; the removal surfaces on their next initialization.
func (e *RuleEngine) ModuleTypeRemoved(*ModuleType) {}

// Start enables triggered execution and fires rules gated on a system
// start-level trigger at or below the engine's run level.
func (e *RuleEngine) Start(_ context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrEngineDisposed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	runLevel := e.runLevel
	snapshot := make(map[string]*wrappedRule, len(e.rules))
	for uid, w := range e.rules {
		snapshot[uid] = w
	}
	e.mu.Unlock()

	for uid, w := range snapshot {
		level, ok := startLevelOf(&w.rule)
		if !ok || level > runLevel {
			continue
		}
		err := e.RunNowWith(uid, RunOptions{
			ConsiderConditions: true,
			Context:            map[string]any{OutStartLevel: runLevel},
		})
		if err != nil {
			e.logger.Debug("start-level rule not executed", "rule", uid, "error", err)
		}
	}

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	e.logger.Info("rule engine started", "runLevel", runLevel)
	return nil
}

// Stop shuts the engine down: retry timers are cancelled, trigger callbacks
// stopped, handlers released and contexts destroyed. Status queries keep
// working; AddRule returns ErrEngineDisposed afterwards.
func (e *RuleEngine) Stop(_ context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil
	}
	e.disposed = true
	e.started = false
	timers := e.retryTimers
	e.retryTimers = make(map[string]*time.Timer)
	cbs := e.callbacks
	e.callbacks = make(map[string]*triggerCallback)
	snapshot := make(map[string]*wrappedRule, len(e.rules))
	for uid, w := range e.rules {
		snapshot[uid] = w
	}
	e.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	for _, cb := range cbs {
		cb.dispose()
	}
	for uid, w := range snapshot {
		for _, t := range w.triggers {
			if t.handler != nil {
				t.handler.SetCallback(nil)
			}
		}
		e.releaseHandlers(uid, w)
	}
	e.contexts.dropAll()
	if e.ruleRegistry != nil {
		e.ruleRegistry.RemoveListener(e)
	}
	e.logger.Info("rule engine disposed")
	return nil
}

// RunNow executes the rule immediately, skipping its conditions. Action
// failures are logged, not propagated.
func (e *RuleEngine) RunNow(uid string) error {
	return e.RunNowWith(uid, RunOptions{})
}

// RunNowWith executes the rule immediately with the given options. The rule
// must be Idle; a rule mid-execution yields ErrRuleNotRunnable. With
// StopOnFirstFail the first failing action aborts the run and its error is
// returned to the caller.
func (e *RuleEngine) RunNowWith(uid string, opts RunOptions) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrEngineDisposed
	}
	w := e.rules[uid]
	e.mu.Unlock()
	if w == nil {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, uid)
	}
	if !e.beginRun(uid, w) {
		return fmt.Errorf("%w: %s", ErrRuleNotRunnable, uid)
	}
	start := time.Now()
	outcome := "success"
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				outcome = "panic"
				runErr = fmt.Errorf("rule %q execution panicked: %v", uid, r)
				e.logger.Error("rule execution panicked", "rule", uid, "panic", r)
			}
		}()
		e.contexts.clear(uid)
		if len(opts.Context) > 0 {
			e.contexts.merge(uid, "", opts.Context)
		}
		if opts.ConsiderConditions {
			ok, err := e.checkConditions(uid, w)
			if err != nil {
				outcome = "condition_error"
				if opts.StopOnFirstFail {
					runErr = err
				} else {
					e.logger.Warn("condition evaluation failed", "rule", uid, "error", err)
				}
				return
			}
			if !ok {
				outcome = "conditions_not_satisfied"
				return
			}
		}
		if err := e.executeActions(uid, w, opts.StopOnFirstFail); err != nil {
			outcome = "action_error"
			runErr = err
		}
	}()
	e.endRun(uid, w)
	if e.metrics != nil {
		e.metrics.RecordExecution(uid, outcome, time.Since(start))
	}
	return runErr
}

// ResolveHandler implements HandlerResolver; the composite factory uses it
// to bind child modules through the engine's factory table.
func (e *RuleEngine) ResolveHandler(m Module, ruleUID string) (ModuleHandler, error) {
	h, err := e.handlerFor(m, ruleUID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("no handler factory for module type %q", m.ModuleTypeUID())
	}
	return h, nil
}

// ReleaseHandler implements HandlerResolver.
func (e *RuleEngine) ReleaseHandler(m Module, ruleUID string, h ModuleHandler) {
	e.releaseHandler(m, ruleUID, h)
}

// --- initialization pipeline ---

func (e *RuleEngine) initializeRule(w *wrappedRule) {
	uid := w.rule.UID
	e.mu.Lock()
	disposed := e.disposed
	e.mu.Unlock()
	if disposed {
		return
	}
	e.setStatus(uid, w, RuleStatusInfo{Status: StatusInitializing, Detail: DetailNone})
	if err := e.prepareRule(w); err != nil {
		e.logger.Debug("rule validation failed", "rule", uid, "error", err)
		e.setStatus(uid, w, RuleStatusInfo{
			Status:  StatusUninitialized,
			Detail:  DetailInvalidRule,
			Message: err.Error(),
		})
		e.scheduleInitialization(uid)
		return
	}
	if e.activateRule(w) {
		e.cancelRetry(uid)
	}
}

// prepareRule indexes module types, parses input references, validates
// module IDs, auto-maps missing connections and validates the result.
// Validation happens before any handler is requested.
func (e *RuleEngine) prepareRule(w *wrappedRule) error {
	uid := w.rule.UID
	e.mu.Lock()
	for _, m := range w.moduleRefs() {
		typeUID := m.ModuleTypeUID()
		if e.typeIndex[typeUID] == nil {
			e.typeIndex[typeUID] = make(map[string]struct{})
		}
		e.typeIndex[typeUID][uid] = struct{}{}
	}
	e.mu.Unlock()

	for _, c := range w.conditions {
		conns, err := parseConnections(c.module.Inputs)
		if err != nil {
			return fmt.Errorf("condition %q: %w", c.module.ID, err)
		}
		c.connections = conns
	}
	for _, a := range w.actions {
		conns, err := parseConnections(a.module.Inputs)
		if err != nil {
			return fmt.Errorf("action %q: %w", a.module.ID, err)
		}
		a.connections = conns
	}
	if err := validateModuleIDs(w); err != nil {
		return err
	}
	autoMapConnections(e.types, w)
	return validateConnections(e.types, w)
}

func (e *RuleEngine) activateRule(w *wrappedRule) bool {
	uid := w.rule.UID
	e.mu.Lock()
	if e.rules[uid] != w || e.disposed {
		e.mu.Unlock()
		return false
	}
	if st := w.status.Status; st != StatusUninitialized && st != StatusInitializing {
		e.mu.Unlock()
		e.logger.Warn("cannot activate rule", "rule", uid, "status", st)
		return false
	}
	e.mu.Unlock()
	if msg := e.bindHandlers(w); msg != "" {
		e.setStatus(uid, w, RuleStatusInfo{
			Status:  StatusUninitialized,
			Detail:  DetailHandlerInitializingError,
			Message: msg,
		})
		e.releaseHandlers(uid, w)
		e.scheduleInitialization(uid)
		return false
	}
	e.registerCallbacks(w)
	e.setStatus(uid, w, RuleStatusInfo{Status: StatusIdle, Detail: DetailNone})
	return true
}

// bindHandlers requests a handler for every module. It returns an empty
// string on success, otherwise a message listing every binding problem.
func (e *RuleEngine) bindHandlers(w *wrappedRule) string {
	uid := w.rule.UID
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	for _, t := range w.triggers {
		h, err := e.handlerFor(&t.module, uid)
		switch {
		case err != nil:
			fail("trigger %q: %v", t.module.ID, err)
		case h == nil:
			fail("missing handler for trigger %q (type %q)", t.module.ID, t.module.TypeUID)
		default:
			th, ok := h.(TriggerHandler)
			if !ok {
				e.releaseHandler(&t.module, uid, h)
				fail("handler for trigger %q does not handle triggers", t.module.ID)
				continue
			}
			t.handler = th
		}
	}
	for _, c := range w.conditions {
		h, err := e.handlerFor(&c.module, uid)
		switch {
		case err != nil:
			fail("condition %q: %v", c.module.ID, err)
		case h == nil:
			fail("missing handler for condition %q (type %q)", c.module.ID, c.module.TypeUID)
		default:
			ch, ok := h.(ConditionHandler)
			if !ok {
				e.releaseHandler(&c.module, uid, h)
				fail("handler for condition %q does not handle conditions", c.module.ID)
				continue
			}
			c.handler = ch
		}
	}
	for _, a := range w.actions {
		h, err := e.handlerFor(&a.module, uid)
		switch {
		case err != nil:
			fail("action %q: %v", a.module.ID, err)
		case h == nil:
			fail("missing handler for action %q (type %q)", a.module.ID, a.module.TypeUID)
		default:
			ah, ok := h.(ActionHandler)
			if !ok {
				e.releaseHandler(&a.module, uid, h)
				fail("handler for action %q does not handle actions", a.module.ID)
				continue
			}
			a.handler = ah
		}
	}
	return strings.Join(problems, "; ")
}

func (e *RuleEngine) handlerFor(m Module, ruleUID string) (ModuleHandler, error) {
	typeUID := m.ModuleTypeUID()
	e.mu.Lock()
	f := e.factories[typeUID]
	composite := e.composite
	e.mu.Unlock()
	mt := e.types.ModuleType(typeUID)
	if f == nil && composite != nil && mt.IsComposite() {
		f = composite
	}
	if f == nil {
		return nil, nil
	}
	if mt == nil {
		return nil, fmt.Errorf("module type %q is not registered", typeUID)
	}
	return createHandler(f, m, ruleUID)
}

// createHandler shields the engine from panicking factories.
func createHandler(f HandlerFactory, m Module, ruleUID string) (h ModuleHandler, err error) {
	defer func() {
		if r := recover(); r != nil {
			h = nil
			err = fmt.Errorf("handler factory panicked for module %q: %v", m.ModuleID(), r)
		}
	}()
	return f.Handler(m, ruleUID)
}

func (e *RuleEngine) registerCallbacks(w *wrappedRule) {
	uid := w.rule.UID
	e.mu.Lock()
	cb := e.callbacks[uid]
	if cb == nil {
		cb = newTriggerCallback(e, uid)
		e.callbacks[uid] = cb
	}
	e.mu.Unlock()
	for _, t := range w.triggers {
		t.handler.SetCallback(cb)
	}
	for _, c := range w.conditions {
		if r, ok := c.handler.(RuleCallbackReceiver); ok {
			r.SetRuleCallback(e)
		}
	}
	for _, a := range w.actions {
		if r, ok := a.handler.(RuleCallbackReceiver); ok {
			r.SetRuleCallback(e)
		}
	}
}

// unbindRule stops the rule's trigger dispatch and releases its handlers.
func (e *RuleEngine) unbindRule(uid string, w *wrappedRule) {
	e.mu.Lock()
	cb := e.callbacks[uid]
	delete(e.callbacks, uid)
	e.mu.Unlock()
	if cb != nil {
		cb.dispose()
	}
	for _, t := range w.triggers {
		if t.handler != nil {
			t.handler.SetCallback(nil)
		}
	}
	e.releaseHandlers(uid, w)
	e.contexts.drop(uid)
}

func (e *RuleEngine) releaseHandlers(uid string, w *wrappedRule) {
	for _, t := range w.triggers {
		if t.handler != nil {
			e.releaseHandler(&t.module, uid, t.handler)
			t.handler = nil
		}
	}
	for _, c := range w.conditions {
		if c.handler != nil {
			e.releaseHandler(&c.module, uid, c.handler)
			c.handler = nil
		}
	}
	for _, a := range w.actions {
		if a.handler != nil {
			e.releaseHandler(&a.module, uid, a.handler)
			a.handler = nil
		}
	}
}

func (e *RuleEngine) releaseHandler(m Module, ruleUID string, h ModuleHandler) {
	typeUID := m.ModuleTypeUID()
	e.mu.Lock()
	f := e.factories[typeUID]
	composite := e.composite
	e.mu.Unlock()
	if f == nil && composite != nil && e.types.ModuleType(typeUID).IsComposite() {
		f = composite
	}
	if f != nil {
		f.Release(m, ruleUID, h)
		return
	}
	h.Dispose()
}

// --- retry scheduling ---

// scheduleInitialization schedules one deduplicated retry for the rule.
func (e *RuleEngine) scheduleInitialization(uid string) {
	e.mu.Lock()
	if e.disposed || e.retryTimers[uid] != nil {
		e.mu.Unlock()
		return
	}
	delay := e.retryDelay
	e.retryTimers[uid] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.retryTimers, uid)
		w := e.rules[uid]
		disposed := e.disposed
		e.mu.Unlock()
		if w == nil || disposed || e.isDisabled(uid) {
			return
		}
		if st := e.statusOf(uid, w); st == StatusIdle || st == StatusRunning {
			return
		}
		e.initializeRule(w)
	})
	e.mu.Unlock()
}

// scheduleInitializationIfPending schedules a retry only for rules stuck in
// Uninitialized without being disabled.
func (e *RuleEngine) scheduleInitializationIfPending(uid string) {
	e.mu.Lock()
	w := e.rules[uid]
	e.mu.Unlock()
	if w == nil || e.isDisabled(uid) {
		return
	}
	if e.statusOf(uid, w) != StatusUninitialized {
		return
	}
	e.scheduleInitialization(uid)
}

func (e *RuleEngine) cancelRetry(uid string) {
	e.mu.Lock()
	t := e.retryTimers[uid]
	delete(e.retryTimers, uid)
	e.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// --- execution ---

// runRule executes one queued trigger firing. It is only ever called from
// the rule's trigger callback goroutine.
func (e *RuleEngine) runRule(uid string, f triggerFiring) {
	e.mu.Lock()
	started := e.started
	w := e.rules[uid]
	e.mu.Unlock()
	if !started {
		e.logger.Debug("engine not started, ignoring trigger firing", "rule", uid)
		return
	}
	if w == nil {
		return
	}
	if !e.beginRun(uid, w) {
		return
	}
	start := time.Now()
	outcome := "success"
	func() {
		defer func() {
			if r := recover(); r != nil {
				outcome = "panic"
				e.logger.Error("rule execution panicked", "rule", uid, "panic", r)
			}
		}()
		e.contexts.clear(uid)
		e.contexts.merge(uid, f.trigger.ID, f.outputs)
		ok, err := e.checkConditions(uid, w)
		if err != nil {
			outcome = "condition_error"
			e.logger.Warn("condition evaluation failed", "rule", uid, "error", err)
			return
		}
		if !ok {
			outcome = "conditions_not_satisfied"
			return
		}
		if err := e.executeActions(uid, w, true); err != nil {
			outcome = "action_error"
			e.logger.Warn("rule execution failed", "rule", uid, "error", err)
		}
	}()
	e.endRun(uid, w)
	if e.metrics != nil {
		e.metrics.RecordExecution(uid, outcome, time.Since(start))
	}
}

// beginRun performs the single-flight transition: the Idle check and the
// move to Running happen atomically under the engine lock.
func (e *RuleEngine) beginRun(uid string, w *wrappedRule) bool {
	e.mu.Lock()
	if e.rules[uid] != w || w.status.Status != StatusIdle {
		st := w.status.Status
		e.mu.Unlock()
		e.logger.Error("failed to execute rule: not idle", "rule", uid, "status", st)
		return false
	}
	w.status = RuleStatusInfo{Status: StatusRunning, Detail: DetailNone}
	e.mu.Unlock()
	e.notifyStatus(uid, RuleStatusInfo{Status: StatusRunning, Detail: DetailNone})
	return true
}

// endRun restores Idle, but only when the rule is still Running: a
// concurrent disable or removal wins.
func (e *RuleEngine) endRun(uid string, w *wrappedRule) {
	e.mu.Lock()
	if e.rules[uid] != w || w.status.Status != StatusRunning {
		e.mu.Unlock()
		return
	}
	w.status = RuleStatusInfo{Status: StatusIdle, Detail: DetailNone}
	e.mu.Unlock()
	e.notifyStatus(uid, RuleStatusInfo{Status: StatusIdle, Detail: DetailNone})
}

// checkConditions evaluates the rule's conditions as a short-circuit AND.
// Before each evaluation the Running status is re-checked so a concurrent
// disable aborts the chain.
func (e *RuleEngine) checkConditions(uid string, w *wrappedRule) (bool, error) {
	for _, c := range w.conditions {
		if e.statusOf(uid, w) != StatusRunning {
			return false, nil
		}
		if c.handler == nil {
			continue
		}
		inputs := e.contexts.resolveInputs(uid, c.connections, e.logger)
		ok, err := callCondition(c.handler, inputs)
		if err != nil {
			return false, fmt.Errorf("condition %q: %w", c.module.ID, err)
		}
		if !ok {
			e.logger.Debug("condition not satisfied", "rule", uid, "condition", c.module.ID)
			return false, nil
		}
	}
	return true, nil
}

// executeActions runs the rule's actions in order, merging their outputs
// back into the context. With stopOnFirstFail the first failure aborts the
// chain and is returned; otherwise failures are logged and the chain
// continues.
func (e *RuleEngine) executeActions(uid string, w *wrappedRule, stopOnFirstFail bool) error {
	for _, a := range w.actions {
		if e.statusOf(uid, w) != StatusRunning {
			return nil
		}
		if a.handler == nil {
			continue
		}
		inputs := e.contexts.resolveInputs(uid, a.connections, e.logger)
		outputs, err := callAction(a.handler, inputs)
		if err != nil {
			err = fmt.Errorf("action %q: %w", a.module.ID, err)
			if stopOnFirstFail {
				return err
			}
			e.logger.Warn("action failed", "rule", uid, "error", err)
			continue
		}
		if len(outputs) > 0 {
			e.contexts.merge(uid, a.module.ID, outputs)
		}
	}
	return nil
}

func callCondition(h ConditionHandler, inputs map[string]any) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("condition handler panicked: %v", r)
		}
	}()
	return h.IsSatisfied(inputs)
}

func callAction(h ActionHandler, inputs map[string]any) (outputs map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			outputs, err = nil, fmt.Errorf("action handler panicked: %v", r)
		}
	}()
	return h.Execute(inputs)
}

// --- helpers ---

func (e *RuleEngine) setStatus(uid string, w *wrappedRule, info RuleStatusInfo) {
	e.mu.Lock()
	if e.rules[uid] != w {
		e.mu.Unlock()
		return
	}
	w.status = info
	e.mu.Unlock()
	e.notifyStatus(uid, info)
}

func (e *RuleEngine) notifyStatus(uid string, info RuleStatusInfo) {
	if e.metrics != nil {
		e.metrics.RecordStatus(uid, string(info.Status))
	}
	if e.publisher != nil {
		ev := StatusEvent{RuleUID: uid, Status: info, Source: e.source, Time: time.Now()}
		if err := e.publisher.PublishStatus(ev); err != nil {
			e.logger.Warn("failed to publish status event", "rule", uid, "error", err)
		}
	}
}

func (e *RuleEngine) statusOf(uid string, w *wrappedRule) RuleStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rules[uid] != w {
		return StatusUninitialized
	}
	return w.status.Status
}

func (e *RuleEngine) isDisabled(uid string) bool {
	return e.disabled != nil && e.disabled.IsDisabled(uid)
}

// startLevelOf extracts the start level of the rule's system start-level
// trigger, if it has one. A trigger without an explicit level defaults to
// StartLevelRules.
func startLevelOf(r *Rule) (int, bool) {
	for i := range r.Triggers {
		t := &r.Triggers[i]
		if t.TypeUID != SystemStartLevelTriggerTypeUID {
			continue
		}
		switch v := t.Config[CfgStartLevel].(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		case nil:
			return StartLevelRules, true
		}
	}
	return 0, false
}
