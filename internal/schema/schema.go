// Package schema describes the editable settings form: sections of items,
// each bound to a key path in the settings tree.
package schema

import (
	"fmt"
	"strings"

	"github.com/kalambet/deskconf/internal/packages"
	"github.com/kalambet/deskconf/internal/tree"
)

// Kind selects how an item is edited.
type Kind int

const (
	// KindUnrecognized is any kind name this build does not know. It is
	// edited as free text.
	KindUnrecognized Kind = iota
	KindText
	KindChoice
	KindDialog
	KindToggle
)

var kindNames = map[Kind]string{
	KindText:   "text",
	KindChoice: "select",
	KindDialog: "dialog",
	KindToggle: "toggle",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unrecognized"
}

// ParseKind maps a kind name to a Kind. Unknown names yield
// KindUnrecognized.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "input":
		return KindText
	case "select", "choice":
		return KindChoice
	case "dialog":
		return KindDialog
	case "toggle", "checkbox":
		return KindToggle
	default:
		return KindUnrecognized
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText never fails; unknown names decode to KindUnrecognized.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

// ViewState is everything a form needs to render.
type ViewState struct {
	Loading  bool               `json:"loading"`
	Locales  []string           `json:"locales"`
	Themes   []packages.Package `json:"themes"`
	Defaults tree.Tree          `json:"defaults"`
	Settings tree.Tree          `json:"settings"`
}

// Change is a single edit emitted by a control.
type Change struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// UpdateFunc receives edits from controls and dialogs.
type UpdateFunc func(Change)

// Choice is one option of an enumerated item.
type Choice struct {
	Value any    `json:"value"`
	Label string `json:"label"`
}

type (
	// ChoicesFunc lists the options for an item. It must not have side
	// effects; it runs on every render.
	ChoicesFunc func(state ViewState) []Choice

	// TransformFunc formats a raw value for display.
	TransformFunc func(raw any) string

	// DialogFunc builds the dialog opened from an item's trigger. raw is the
	// item's resolved value before TransformValue, so a file picker can
	// start from the full stored path rather than its display form.
	DialogFunc func(item Item, state ViewState, update UpdateFunc, raw any) DialogRequest
)

// Item describes one editable setting.
type Item struct {
	Label          string
	Path           string
	Kind           Kind
	Description    string
	Choices        ChoicesFunc
	TransformValue TransformFunc
	Dialog         DialogFunc
	// Default is used when neither settings nor defaults hold a value.
	Default any
}

// Value resolves the item's current value from state.
func (it Item) Value(state ViewState) any {
	v := tree.ResolveWithDefault(state.Settings, state.Defaults, it.Path)
	if tree.IsUndefined(v) {
		return it.Default
	}
	return v
}

// Display formats v with the item's transform, if any.
func (it Item) Display(v any) string {
	if it.TransformValue != nil {
		return it.TransformValue(v)
	}
	return FormatValue(v)
}

// FormatValue renders a tree value as plain text.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		if tree.IsUndefined(v) {
			return ""
		}
		return fmt.Sprint(val)
	}
}

// Section is a titled group of items.
type Section struct {
	Title string
	Items []Item
}

// Registry is the ordered list of sections making up a form.
type Registry []Section

// Lookup finds the item bound to path.
func (r Registry) Lookup(path string) (Item, bool) {
	for _, s := range r {
		for _, it := range s.Items {
			if it.Path == path {
				return it, true
			}
		}
	}
	return Item{}, false
}

// Items returns every item in order.
func (r Registry) Items() []Item {
	var out []Item
	for _, s := range r {
		out = append(out, s.Items...)
	}
	return out
}

// ItemInfo is the serializable part of an Item.
type ItemInfo struct {
	Label       string `json:"label"`
	Path        string `json:"path"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// SectionInfo is the serializable part of a Section.
type SectionInfo struct {
	Title string     `json:"title"`
	Items []ItemInfo `json:"items"`
}

// Describe returns the registry without its function fields.
func (r Registry) Describe() []SectionInfo {
	out := make([]SectionInfo, 0, len(r))
	for _, s := range r {
		info := SectionInfo{Title: s.Title, Items: make([]ItemInfo, 0, len(s.Items))}
		for _, it := range s.Items {
			info.Items = append(info.Items, ItemInfo{
				Label:       it.Label,
				Path:        it.Path,
				Kind:        it.Kind,
				Description: it.Description,
				Default:     it.Default,
			})
		}
		out = append(out, info)
	}
	return out
}
