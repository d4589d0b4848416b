package ruleengine

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// isContextRef reports whether ref is a bare context reference ("${key}" or
// "$key") rather than a module output reference.
func isContextRef(ref string) bool {
	return contextRefPattern.MatchString(strings.TrimSpace(ref))
}

// contextRefKey strips the "${...}" or "$" wrapper from a context reference.
func contextRefKey(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "${") && strings.HasSuffix(ref, "}") {
		return ref[2 : len(ref)-1]
	}
	return strings.TrimPrefix(ref, "$")
}

// resolveContextReference resolves a "${key}" / "$key" reference against a
// context map. The second result reports whether the key was present.
func resolveContextReference(ref string, context map[string]any) (any, bool) {
	v, ok := context[contextRefKey(ref)]
	return v, ok
}

// splitReferenceTokens splits a nested reference path into its access
// tokens. The path starts at the first '.' or '[' after an output name, e.g.
// `.deviceInfo["name"].aliases[0]` yields
// ["deviceInfo", "name", "aliases", "0"].
func splitReferenceTokens(path string) ([]string, error) {
	var tokens []string
	i := 0
	for i < len(path) {
		switch path[i] {
		case '.':
			i++
			start := i
			for i < len(path) && path[i] != '.' && path[i] != '[' {
				i++
			}
			if i == start {
				return nil, fmt.Errorf("empty field name at offset %d in %q", start, path)
			}
			tokens = append(tokens, path[start:i])
		case '[':
			i++
			if i >= len(path) {
				return nil, fmt.Errorf("unterminated index in %q", path)
			}
			if q := path[i]; q == '"' || q == '\'' {
				i++
				start := i
				for i < len(path) && path[i] != q {
					i++
				}
				if i >= len(path) {
					return nil, fmt.Errorf("unterminated quoted key in %q", path)
				}
				tokens = append(tokens, path[start:i])
				i++ // closing quote
			} else {
				start := i
				for i < len(path) && path[i] != ']' {
					if path[i] < '0' || path[i] > '9' {
						return nil, fmt.Errorf("invalid index at offset %d in %q", i, path)
					}
					i++
				}
				if i == start {
					return nil, fmt.Errorf("empty index in %q", path)
				}
				tokens = append(tokens, path[start:i])
			}
			if i >= len(path) || path[i] != ']' {
				return nil, fmt.Errorf("missing ']' in %q", path)
			}
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d in %q", path[i], i, path)
		}
	}
	return tokens, nil
}

// resolveNestedReference drills into a value along a nested reference path.
// Maps are accessed by key, slices and arrays by index, structs by exported
// field name. Pointers and interfaces are followed transparently.
func resolveNestedReference(value any, path string) (any, error) {
	tokens, err := splitReferenceTokens(path)
	if err != nil {
		return nil, err
	}
	cur := value
	for _, token := range tokens {
		next, err := resolveToken(cur, token)
		if err != nil {
			return nil, fmt.Errorf("resolving %q in path %q: %w", token, path, err)
		}
		cur = next
	}
	return cur, nil
}

func resolveToken(value any, token string) (any, error) {
	if value == nil {
		return nil, fmt.Errorf("cannot access %q on nil value", token)
	}
	if m, ok := value.(map[string]any); ok {
		v, ok := m[token]
		if !ok {
			return nil, fmt.Errorf("key %q not present", token)
		}
		return v, nil
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, fmt.Errorf("cannot access %q on nil value", token)
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map key type %s is not string", rv.Type().Key())
		}
		v := rv.MapIndex(reflect.ValueOf(token).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, fmt.Errorf("key %q not present", token)
		}
		return v.Interface(), nil
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(token)
		if err != nil {
			return nil, fmt.Errorf("index %q is not a number", token)
		}
		if idx < 0 || idx >= rv.Len() {
			return nil, fmt.Errorf("index %d out of range (len %d)", idx, rv.Len())
		}
		return rv.Index(idx).Interface(), nil
	case reflect.Struct:
		f := rv.FieldByName(token)
		if !f.IsValid() {
			return nil, fmt.Errorf("no field %q on %s", token, rv.Type())
		}
		if !f.CanInterface() {
			return nil, fmt.Errorf("field %q on %s is unexported", token, rv.Type())
		}
		return f.Interface(), nil
	default:
		return nil, fmt.Errorf("cannot access %q on %s value", token, rv.Kind())
	}
}
