package viewmodel

import (
	"reflect"
	"testing"

	"github.com/kalambet/deskconf/internal/schema"
	"github.com/kalambet/deskconf/internal/tree"
)

func TestReduce_UpdateLeavesInputAlone(t *testing.T) {
	before := schema.ViewState{
		Settings: tree.Tree{"desktop": map[string]any{"theme": "Midnight", "icons": "GnomeIcons"}},
	}
	snapshot := tree.Clone(before.Settings)

	after := Reduce(before, Update{Path: "desktop.theme", Value: "Daylight"})

	if !reflect.DeepEqual(before.Settings, snapshot) {
		t.Errorf("input settings modified: %v", before.Settings)
	}
	if got := tree.Resolve(after.Settings, "desktop.theme", nil); got != "Daylight" {
		t.Errorf("theme = %v", got)
	}
	if got := tree.Resolve(after.Settings, "desktop.icons", nil); got != "GnomeIcons" {
		t.Errorf("sibling lost: %v", got)
	}
}

func TestReduce_Loading(t *testing.T) {
	s := Reduce(schema.ViewState{}, Save{})
	if !s.Loading {
		t.Fatal("Save on idle state should set loading")
	}
	if again := Reduce(s, Save{}); !again.Loading {
		t.Error("Save while loading should keep loading")
	}
	if s = Reduce(s, SetLoading{Loading: false}); s.Loading {
		t.Error("SetLoading(false) did not clear loading")
	}
}

func TestReduce_RefreshReplacesSettings(t *testing.T) {
	s := schema.ViewState{
		Settings: tree.Tree{"desktop": map[string]any{"theme": "edited"}},
		Defaults: tree.Tree{"desktop": map[string]any{"theme": "default"}},
	}
	fresh := tree.Tree{"locale": map[string]any{"language": "nb_NO"}}

	s = Reduce(s, Refresh{Settings: fresh})

	if !reflect.DeepEqual(s.Settings, fresh) {
		t.Errorf("Settings = %v, want %v", s.Settings, fresh)
	}
	if tree.Resolve(s.Defaults, "desktop.theme", nil) != "default" {
		t.Error("Refresh touched defaults")
	}

	fresh["locale"].(map[string]any)["language"] = "en_EN"
	if got := tree.Resolve(s.Settings, "locale.language", nil); got != "nb_NO" {
		t.Errorf("state aliases refreshed tree: %v", got)
	}

	if s = Reduce(s, Refresh{}); s.Settings == nil {
		t.Error("Refresh with nil settings should leave an empty tree")
	}
}

func TestCoercions(t *testing.T) {
	tests := []struct {
		name string
		fn   Coercion
		in   any
		want any
	}{
		{"bool true", Bool, "true", true},
		{"bool false upper", Bool, "FALSE", false},
		{"bool passthrough", Bool, true, true},
		{"bool junk", Bool, "maybe", "maybe"},
		{"color long", ColorHex, "#FFFFFF", "#ffffff"},
		{"color short", ColorHex, "#0f0", "#00ff00"},
		{"color no hash", ColorHex, "572a79", "#572a79"},
		{"color junk", ColorHex, "purple", "purple"},
		{"color non-string", ColorHex, 12, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCoercions_ApplyDefaultsToIdentity(t *testing.T) {
	var none Coercions
	if got := none.Apply("desktop.iconview.enabled", "true"); got != "true" {
		t.Errorf("nil table changed value: %#v", got)
	}
	c := DefaultCoercions()
	if got := c.Apply("desktop.iconview.enabled", "true"); got != true {
		t.Errorf("enabled = %#v", got)
	}
	if got := c.Apply("locale.language", "true"); got != "true" {
		t.Errorf("unlisted path coerced: %#v", got)
	}
}
