// Package snapshot keeps a local copy of a streamed database location,
// built from the put and patch events a stream delivers.
//
//	tree, err := snapshot.NewTree(ref.URL(), store)
//	if err != nil {
//	    return err
//	}
//	s, err := ref.Stream(ctx, tree.Callback(nil))
package snapshot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	rtdb "github.com/durable-streams/rtdb-go"
)

// ErrInvalidPatch is returned by Apply for a patch whose data is not an object.
var ErrInvalidPatch = errors.New("snapshot: patch data is not an object")

// Tree is a JSON value kept current by stream events.
// It is safe for concurrent use.
type Tree struct {
	resource string
	store    Store

	mu   sync.RWMutex
	root any
}

// NewTree creates a tree for resource, seeded with the value store holds
// for it. A nil store keeps the tree in memory only.
func NewTree(resource string, store Store) (*Tree, error) {
	t := &Tree{resource: resource, store: store}
	if store == nil {
		return t, nil
	}

	v, ok, err := store.Load(resource)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", resource, err)
	}
	if ok {
		t.root = v
	}
	return t, nil
}

// Apply updates the tree with ev and saves the result to the store. The
// tree is left unchanged when saving fails. Keep-alive events are ignored.
func (t *Tree) Apply(ev rtdb.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	root := t.root
	if t.store != nil {
		// set edits in place.
		root = clone(root)
	}

	switch ev.Type {
	case rtdb.EventPut:
		root = set(root, split(ev.Path), clone(ev.Data))
	case rtdb.EventPatch:
		children, ok := ev.Data.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidPatch, ev.Path)
		}
		base := split(ev.Path)
		for k, v := range children {
			path := append(append([]string{}, base...), split(k)...)
			root = set(root, path, clone(v))
		}
	default:
		return nil
	}

	if t.store != nil {
		if err := t.store.Save(t.resource, root); err != nil {
			return err
		}
	}
	t.root = root
	return nil
}

// Value returns a copy of the value at path, "/" for the whole tree, or nil
// when nothing is stored there.
func (t *Tree) Value(path string) any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node := t.root
	for _, seg := range split(path) {
		switch n := node.(type) {
		case map[string]any:
			node = n[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(n) {
				return nil
			}
			node = n[i]
		default:
			return nil
		}
	}
	return clone(node)
}

// Callback returns a stream callback that applies each event and then
// passes it to next, if next is non-nil. An Apply failure is returned
// without calling next.
func (t *Tree) Callback(next rtdb.Callback) rtdb.Callback {
	return func(ev rtdb.Event) error {
		if err := t.Apply(ev); err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		return next(ev)
	}
}

func split(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// set returns node with value written at path. A nil value deletes, and
// objects left empty are removed with it.
func set(node any, path []string, value any) any {
	if len(path) == 0 {
		if m, ok := value.(map[string]any); ok && len(m) == 0 {
			return nil
		}
		return value
	}

	var m map[string]any
	switch n := node.(type) {
	case map[string]any:
		m = n
	case []any:
		// Arrays are objects with integer keys once they are edited by path.
		m = make(map[string]any, len(n))
		for i, v := range n {
			if v != nil {
				m[strconv.Itoa(i)] = v
			}
		}
	default:
		m = make(map[string]any)
	}

	if child := set(m[path[0]], path[1:], value); child == nil {
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
