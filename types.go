package ruleengine

import (
	"fmt"
	"sort"
	"sync"
)

// Input describes a named input of a module type. Type is a type name string;
// "*" accepts any connected output type. Tags drive connection auto-mapping.
type Input struct {
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type,omitempty" json:"type,omitempty"`
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
}

// Output describes a named output of a module type. Reference is only used by
// composite types: it resolves the output from the composite's internal
// context, e.g. "${childId.out}".
type Output struct {
	Name      string   `yaml:"name" json:"name"`
	Type      string   `yaml:"type,omitempty" json:"type,omitempty"`
	Tags      []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Reference string   `yaml:"reference,omitempty" json:"reference,omitempty"`
}

// CompositeSpec lists the child modules a composite type expands into. Only
// the slice matching the type's Kind is consulted.
type CompositeSpec struct {
	Triggers   []Trigger   `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Conditions []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Actions    []Action    `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// ModuleType is the metadata record for a module type UID.
type ModuleType struct {
	UID       string         `yaml:"uid" json:"uid"`
	Kind      Kind           `yaml:"kind" json:"kind"`
	Label     string         `yaml:"label,omitempty" json:"label,omitempty"`
	Inputs    []Input        `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs   []Output       `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Composite *CompositeSpec `yaml:"composite,omitempty" json:"composite,omitempty"`
}

// IsComposite reports whether the type expands into child modules.
func (t *ModuleType) IsComposite() bool { return t != nil && t.Composite != nil }

// Output returns the named output declaration, if present.
func (t *ModuleType) Output(name string) (Output, bool) {
	for _, o := range t.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return Output{}, false
}

// ModuleTypeRegistry is the engine's read view of module type metadata.
type ModuleTypeRegistry interface {
	ModuleType(uid string) *ModuleType
}

// ModuleTypeListener is notified of module type registry changes.
type ModuleTypeListener interface {
	ModuleTypeAdded(t *ModuleType)
	ModuleTypeUpdated(old, updated *ModuleType)
	ModuleTypeRemoved(t *ModuleType)
}

// MemoryTypeRegistry is a concurrency-safe in-memory ModuleTypeRegistry with
// change notification.
type MemoryTypeRegistry struct {
	mu        sync.RWMutex
	types     map[string]*ModuleType
	listeners []ModuleTypeListener
}

func NewMemoryTypeRegistry() *MemoryTypeRegistry {
	return &MemoryTypeRegistry{types: make(map[string]*ModuleType)}
}

func (r *MemoryTypeRegistry) ModuleType(uid string) *ModuleType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[uid]
}

// All returns the registered types sorted by UID.
func (r *MemoryTypeRegistry) All() []*ModuleType {
	r.mu.RLock()
	out := make([]*ModuleType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Add registers a new type. Adding an existing UID is an error; use Update.
func (r *MemoryTypeRegistry) Add(t *ModuleType) error {
	if t == nil || t.UID == "" {
		return fmt.Errorf("module type must have a UID")
	}
	r.mu.Lock()
	if _, ok := r.types[t.UID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("module type %q already registered", t.UID)
	}
	r.types[t.UID] = t
	listeners := append([]ModuleTypeListener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.ModuleTypeAdded(t)
	}
	return nil
}

// Update replaces an existing type and returns the previous record.
func (r *MemoryTypeRegistry) Update(t *ModuleType) (*ModuleType, error) {
	if t == nil || t.UID == "" {
		return nil, fmt.Errorf("module type must have a UID")
	}
	r.mu.Lock()
	old, ok := r.types[t.UID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("module type %q not registered", t.UID)
	}
	r.types[t.UID] = t
	listeners := append([]ModuleTypeListener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.ModuleTypeUpdated(old, t)
	}
	return old, nil
}

// Remove deletes a type; unknown UIDs are ignored.
func (r *MemoryTypeRegistry) Remove(uid string) {
	r.mu.Lock()
	old, ok := r.types[uid]
	delete(r.types, uid)
	listeners := append([]ModuleTypeListener(nil), r.listeners...)
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, l := range listeners {
		l.ModuleTypeRemoved(old)
	}
}

func (r *MemoryTypeRegistry) AddListener(l ModuleTypeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *MemoryTypeRegistry) RemoveListener(l ModuleTypeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.listeners {
		if x == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}
