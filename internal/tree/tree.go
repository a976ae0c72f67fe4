// Package tree implements reads and writes over nested configuration
// documents addressed by dot-separated key paths.
package tree

import (
	"sort"
	"strings"
)

// Tree is a nested configuration document. Values are scalars (string,
// bool, numbers), arrays ([]any) or nested trees.
type Tree = map[string]any

type undefined struct{}

func (undefined) String() string { return "<undefined>" }

// Undefined marks the absence of a value. Resolve never returns it unless it
// was passed in as the fallback.
var Undefined any = undefined{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// Split breaks a key path into its segments. An empty path has no segments.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// validPath reports whether every segment of path is non-empty.
func validPath(segs []string) bool {
	if len(segs) == 0 {
		return false
	}
	for _, s := range segs {
		if s == "" {
			return false
		}
	}
	return true
}

// Resolve returns the value at path in t, or fallback when any segment is
// missing, an intermediate value is not a tree, or the value found is
// Undefined. Map and slice results are copies.
func Resolve(t Tree, path string, fallback any) any {
	segs := Split(path)
	if t == nil || len(segs) == 0 {
		return fallback
	}

	var cur any = t
	for _, seg := range segs {
		node, ok := cur.(map[string]any)
		if !ok {
			return fallback
		}
		v, ok := node[seg]
		if !ok {
			return fallback
		}
		cur = v
	}

	if IsUndefined(cur) {
		return fallback
	}
	return cloneValue(cur)
}

// ResolveWithDefault reads path from settings and falls back to the same
// path in defaults. Defaults are consulted per path, never merged up front.
func ResolveWithDefault(settings, defaults Tree, path string) any {
	return Resolve(settings, path, Resolve(defaults, path, Undefined))
}

// SetPath returns a copy of t with value stored at path. The branch leading
// to path is deep-merged onto t so sibling keys survive. t is not modified.
// Paths with no segments or an empty segment leave t unchanged.
func SetPath(t Tree, path string, value any) Tree {
	segs := Split(path)
	if !validPath(segs) {
		return t
	}

	var node any = value
	for i := len(segs) - 1; i >= 0; i-- {
		node = Tree{segs[i]: node}
	}
	return Merge(t, node.(Tree))
}

// Merge deep-merges overlay onto base and returns a new tree. Nested trees
// merge key by key; scalars and arrays from overlay replace those in base.
// Neither input is modified and the result shares no maps or slices with
// them.
func Merge(base, overlay Tree) Tree {
	out := make(Tree, len(base)+len(overlay))
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, v := range overlay {
		if om, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = Merge(bm, om)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Clone returns a deep copy of t.
func Clone(t Tree) Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Clone(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}

// Flatten returns every leaf of t keyed by its full path. Empty trees are
// reported as leaves so they remain visible in listings.
func Flatten(t Tree) map[string]any {
	out := make(map[string]any)
	flatten(out, "", t)
	return out
}

func flatten(out map[string]any, prefix string, t Tree) {
	for k, v := range t {
		p := k
		if prefix != "" {
			p = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
			flatten(out, p, sub)
			continue
		}
		out[p] = cloneValue(v)
	}
}

// Paths returns the sorted leaf paths of t.
func Paths(t Tree) []string {
	flat := Flatten(t)
	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
