package ruleengine

import (
	"sort"
	"strings"
)

// Auto-mapping infers connections for unconnected inputs by matching input
// tags against output tags. An output is a candidate when its tag set is a
// superset of the input's tag set; the connection is made only when exactly
// one candidate remains. Condition inputs match trigger outputs only; action
// inputs match trigger outputs first, then outputs of other actions.

type tagCandidate struct {
	tags       map[string]struct{}
	moduleID   string
	outputName string
}

// tagKey canonicalizes a tag set for map lookup.
func tagKey(tags []string) string {
	uniq := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		uniq[t] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for t := range uniq {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "\n")
}

// collectTaggedOutputs indexes the tagged outputs of the given modules by
// canonical tag set. A tag set seen a second time is a conflict and the entry
// is removed from the map; neither output can then be auto-mapped through it.
func collectTaggedOutputs(types ModuleTypeRegistry, modules []Module) map[string]tagCandidate {
	out := make(map[string]tagCandidate)
	for _, m := range modules {
		mt := types.ModuleType(m.ModuleTypeUID())
		if mt == nil {
			continue
		}
		for _, o := range mt.Outputs {
			if len(o.Tags) == 0 {
				continue
			}
			key := tagKey(o.Tags)
			if _, exists := out[key]; exists {
				delete(out, key)
				continue
			}
			tags := make(map[string]struct{}, len(o.Tags))
			for _, t := range o.Tags {
				tags[t] = struct{}{}
			}
			out[key] = tagCandidate{tags: tags, moduleID: m.ModuleID(), outputName: o.Name}
		}
	}
	return out
}

// matchTaggedOutput finds the single candidate output whose tag set covers
// the input's tags. Zero or multiple matches yield no connection.
func matchTaggedOutput(in Input, candidates map[string]tagCandidate) (Connection, bool) {
	if len(in.Tags) == 0 {
		return Connection{}, false
	}
	var match tagCandidate
	found := 0
	for _, cand := range candidates {
		if coversAll(cand.tags, in.Tags) {
			match = cand
			found++
			if found > 1 {
				return Connection{}, false
			}
		}
	}
	if found != 1 {
		return Connection{}, false
	}
	return Connection{InputName: in.Name, OutputModuleID: match.moduleID, OutputName: match.outputName}, true
}

func coversAll(set map[string]struct{}, tags []string) bool {
	for _, t := range tags {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// autoMapConnections fills in missing connections for the rule's conditions
// and actions based on output/input tags. Explicit connections are never
// overridden. Runs on every initialization attempt.
func autoMapConnections(types ModuleTypeRegistry, w *wrappedRule) {
	triggerModules := make([]Module, 0, len(w.triggers))
	for _, t := range w.triggers {
		triggerModules = append(triggerModules, &t.module)
	}
	actionModules := make([]Module, 0, len(w.actions))
	for _, a := range w.actions {
		actionModules = append(actionModules, &a.module)
	}
	triggerOutputs := collectTaggedOutputs(types, triggerModules)
	actionOutputs := collectTaggedOutputs(types, actionModules)

	if len(triggerOutputs) > 0 {
		for _, c := range w.conditions {
			mt := types.ModuleType(c.module.TypeUID)
			if mt == nil {
				continue
			}
			for _, in := range mt.Inputs {
				if _, connected := c.connections[in.Name]; connected {
					continue
				}
				if conn, ok := matchTaggedOutput(in, triggerOutputs); ok {
					c.connections[in.Name] = conn
				}
			}
		}
	}
	if len(triggerOutputs) > 0 || len(actionOutputs) > 0 {
		for _, a := range w.actions {
			mt := types.ModuleType(a.module.TypeUID)
			if mt == nil {
				continue
			}
			for _, in := range mt.Inputs {
				if _, connected := a.connections[in.Name]; connected {
					continue
				}
				if conn, ok := matchTaggedOutput(in, triggerOutputs); ok {
					a.connections[in.Name] = conn
					continue
				}
				if conn, ok := matchTaggedOutput(in, actionOutputs); ok {
					if conn.OutputModuleID != a.module.ID {
						a.connections[in.Name] = conn
					}
				}
			}
		}
	}
}
