package ruleengine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Connection links one input of a condition or action to a data source:
// either an output of another module ("moduleId.outputName", optionally with
// a nested reference into the output value) or a rule context entry
// ("${contextKey}").
type Connection struct {
	InputName      string
	OutputModuleID string
	OutputName     string
	// Reference is the raw context reference for context connections, or the
	// nested drill-down path ("\.field", "[\"key\"]", "[0]" chains) for
	// module-output connections.
	Reference string
}

func (c Connection) String() string {
	if c.OutputModuleID == "" {
		return c.InputName + "->" + c.Reference
	}
	return c.InputName + "->" + c.OutputModuleID + OutputSeparator + c.OutputName + c.Reference
}

// OutputSeparator joins module IDs and output names in references and in
// rule context keys.
const OutputSeparator = "."

var (
	contextRefPattern  = regexp.MustCompile(`^(\$\{[A-Za-z0-9_-]+\}|\$[A-Za-z0-9_-]+)$`)
	moduleOutputPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.\w+((\.\w+)|(\["[^"]*"\])|(\['[^']*'\])|(\[\d+\]))*$`)
)

// parseConnections turns a module's input reference map into Connections
// keyed by input name. Whitespace around references is ignored.
func parseConnections(inputs map[string]string) (map[string]Connection, error) {
	if len(inputs) == 0 {
		return map[string]Connection{}, nil
	}
	conns := make(map[string]Connection, len(inputs))
	// deterministic error reporting
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c, err := parseConnection(name, inputs[name])
		if err != nil {
			return nil, err
		}
		conns[name] = c
	}
	return conns, nil
}

func parseConnection(inputName, ref string) (Connection, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Connection{}, fmt.Errorf("input %q has an empty reference", inputName)
	}
	if contextRefPattern.MatchString(ref) {
		return Connection{InputName: inputName, Reference: ref}, nil
	}
	if !moduleOutputPattern.MatchString(ref) {
		return Connection{}, fmt.Errorf("input %q has invalid reference %q", inputName, ref)
	}
	dot := strings.Index(ref, OutputSeparator)
	moduleID := ref[:dot]
	rest := ref[dot+1:]
	// output name runs to the next '.' or '['
	end := len(rest)
	for i, r := range rest {
		if r == '.' || r == '[' {
			end = i
			break
		}
	}
	outputName := rest[:end]
	nested := rest[end:]
	return Connection{
		InputName:      inputName,
		OutputModuleID: moduleID,
		OutputName:     outputName,
		Reference:      nested,
	}, nil
}

// connectionMap renders connections back to the input reference form.
func connectionMap(conns map[string]Connection) map[string]string {
	out := make(map[string]string, len(conns))
	for name, c := range conns {
		if c.OutputModuleID == "" {
			out[name] = c.Reference
			continue
		}
		out[name] = c.OutputModuleID + OutputSeparator + c.OutputName + c.Reference
	}
	return out
}
