package rtdbtest

import (
	"encoding/json"
	"strings"
)

func splitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

// normalize converts v to the generic JSON form the tree stores.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func lookup(node any, path []string) any {
	for _, seg := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[seg]
	}
	return node
}

// store returns node with value written at path. Empty objects left behind
// by deletes are removed, as the database never stores them.
func store(node any, path []string, value any) any {
	if len(path) == 0 {
		if m, ok := value.(map[string]any); ok && len(m) == 0 {
			return nil
		}
		return clone(value)
	}

	m, ok := node.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	child := store(m[path[0]], path[1:], value)
	if child == nil {
		delete(m, path[0])
	} else {
		m[path[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func clone(v any) any {
	switch v := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, child := range v {
			m[k] = clone(child)
		}
		return m
	case []any:
		s := make([]any, len(v))
		for i, child := range v {
			s[i] = clone(child)
		}
		return s
	default:
		return v
	}
}
