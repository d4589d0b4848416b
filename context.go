package ruleengine

import (
	"log/slog"
	"maps"
	"sync"
)

// contextStore holds the per-rule execution context: a flat map keyed
// "moduleId.outputName" for module outputs plus bare keys for values seeded
// through RunNow or resolved input names. The context is cleared at the
// start of each run and destroyed on engine shutdown.
type contextStore struct {
	mu   sync.Mutex
	data map[string]map[string]any
}

func newContextStore() *contextStore {
	return &contextStore{data: make(map[string]map[string]any)}
}

func (s *contextStore) clear(ruleUID string) {
	s.mu.Lock()
	s.data[ruleUID] = make(map[string]any)
	s.mu.Unlock()
}

func (s *contextStore) drop(ruleUID string) {
	s.mu.Lock()
	delete(s.data, ruleUID)
	s.mu.Unlock()
}

func (s *contextStore) dropAll() {
	s.mu.Lock()
	s.data = make(map[string]map[string]any)
	s.mu.Unlock()
}

// merge adds module outputs under "moduleID.name" keys. With an empty
// moduleID the keys are taken as-is, which is how RunNow seeds the context.
func (s *contextStore) merge(ruleUID, moduleID string, outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	s.mu.Lock()
	ctx := s.data[ruleUID]
	if ctx == nil {
		ctx = make(map[string]any)
		s.data[ruleUID] = ctx
	}
	for name, v := range outputs {
		key := name
		if moduleID != "" {
			key = moduleID + OutputSeparator + name
		}
		ctx[key] = v
	}
	s.mu.Unlock()
}

// resolveInputs writes the resolved value of each connection into the live
// context under the input name and returns a snapshot of the whole context.
// Unresolvable connections are skipped; the handler sees no entry for them.
func (s *contextStore) resolveInputs(ruleUID string, conns map[string]Connection, logger *slog.Logger) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.data[ruleUID]
	if ctx == nil {
		ctx = make(map[string]any)
		s.data[ruleUID] = ctx
	}
	for _, conn := range conns {
		var v any
		var ok bool
		if conn.OutputModuleID == "" {
			v, ok = resolveContextReference(conn.Reference, ctx)
			if !ok {
				logger.Debug("context reference not present", "rule", ruleUID, "reference", conn.Reference)
				continue
			}
		} else {
			v, ok = ctx[conn.OutputModuleID+OutputSeparator+conn.OutputName]
			if !ok {
				logger.Debug("output not present in context", "rule", ruleUID,
					"module", conn.OutputModuleID, "output", conn.OutputName)
				continue
			}
			if conn.Reference != "" {
				var err error
				v, err = resolveNestedReference(v, conn.Reference)
				if err != nil {
					logger.Warn("nested reference failed", "rule", ruleUID,
						"input", conn.InputName, "error", err)
					continue
				}
			}
		}
		ctx[conn.InputName] = v
	}
	return maps.Clone(ctx)
}
