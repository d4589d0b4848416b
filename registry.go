package ruleengine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RuleListener is notified of rule registry changes.
type RuleListener interface {
	RuleAdded(r Rule)
	RuleUpdated(old, updated Rule)
	RuleRemoved(r Rule)
}

// RuleRegistry is a managed collection of rule definitions. The engine
// subscribes to one via AttachRuleRegistry.
type RuleRegistry interface {
	Rule(uid string) (Rule, bool)
	All() []Rule
	AddListener(l RuleListener)
	RemoveListener(l RuleListener)
}

// MemoryRuleRegistry is a concurrency-safe in-memory RuleRegistry. Rules
// added without a UID get a generated one.
type MemoryRuleRegistry struct {
	mu        sync.RWMutex
	rules     map[string]Rule
	order     []string
	listeners []RuleListener
}

func NewMemoryRuleRegistry() *MemoryRuleRegistry {
	return &MemoryRuleRegistry{rules: make(map[string]Rule)}
}

func (r *MemoryRuleRegistry) Rule(uid string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[uid]
	return rule, ok
}

// All returns the rules in insertion order.
func (r *MemoryRuleRegistry) All() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.order))
	for _, uid := range r.order {
		out = append(out, r.rules[uid])
	}
	return out
}

// Add stores a rule and returns its UID, generating one when absent.
func (r *MemoryRuleRegistry) Add(rule Rule) (string, error) {
	if rule.UID == "" {
		rule.UID = uuid.NewString()
	}
	r.mu.Lock()
	if _, ok := r.rules[rule.UID]; ok {
		r.mu.Unlock()
		return "", fmt.Errorf("rule %q already registered", rule.UID)
	}
	r.rules[rule.UID] = rule
	r.order = append(r.order, rule.UID)
	listeners := append([]RuleListener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.RuleAdded(rule)
	}
	return rule.UID, nil
}

// Update replaces an existing rule.
func (r *MemoryRuleRegistry) Update(rule Rule) error {
	r.mu.Lock()
	old, ok := r.rules[rule.UID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.UID)
	}
	r.rules[rule.UID] = rule
	listeners := append([]RuleListener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.RuleUpdated(old, rule)
	}
	return nil
}

// Remove deletes a rule; removing an unknown UID reports false.
func (r *MemoryRuleRegistry) Remove(uid string) bool {
	r.mu.Lock()
	old, ok := r.rules[uid]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.rules, uid)
	for i, u := range r.order {
		if u == uid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	listeners := append([]RuleListener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.RuleRemoved(old)
	}
	return true
}

func (r *MemoryRuleRegistry) AddListener(l RuleListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *MemoryRuleRegistry) RemoveListener(l RuleListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.listeners {
		if x == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}
