// Package store persists rule disablement flags so explicit disablement
// survives restarts.
package store

import "sync"

// Memory is an in-process disabled-rule store.
type Memory struct {
	mu       sync.RWMutex
	disabled map[string]bool
}

func NewMemory() *Memory {
	return &Memory{disabled: make(map[string]bool)}
}

// IsDisabled reports whether the rule was explicitly disabled.
func (s *Memory) IsDisabled(ruleUID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled[ruleUID]
}

// SetDisabled records the rule's disablement flag.
func (s *Memory) SetDisabled(ruleUID string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if disabled {
		s.disabled[ruleUID] = true
	} else {
		delete(s.disabled, ruleUID)
	}
	return nil
}
