package viewmodel

import (
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Coercion converts a control's output to the type stored at a path.
// Values it does not understand are returned unchanged.
type Coercion func(v any) any

// Coercions maps key paths to their coercion. Paths without an entry keep
// the value as emitted.
type Coercions map[string]Coercion

// Apply coerces v for path.
func (c Coercions) Apply(path string, v any) any {
	if fn, ok := c[path]; ok && fn != nil {
		return fn(v)
	}
	return v
}

// DefaultCoercions covers the paths of the built-in desktop form.
func DefaultCoercions() Coercions {
	return Coercions{
		"desktop.iconview.enabled":   Bool,
		"desktop.background.color":   ColorHex,
		"desktop.iconview.fontColor": ColorHex,
	}
}

// Bool turns the strings "true" and "false" into booleans.
func Bool(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}

// ColorHex normalizes a hex color to lowercase "#rrggbb". Short "#rgb"
// forms are expanded.
func ColorHex(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if s != "" && !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return v
	}
	return c.Hex()
}
