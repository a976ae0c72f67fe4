package schema

import (
	"path"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/kalambet/deskconf/internal/packages"
)

// Desktop returns the built-in settings form.
func Desktop() Registry {
	return Registry{
		{
			Title: "Background",
			Items: []Item{
				{
					Label:          "Image",
					Path:           "desktop.background.src",
					Kind:           KindDialog,
					Description:    "Wallpaper image file",
					TransformValue: fileLabel,
					Dialog:         fileDialog,
				},
				{
					Label:   "Style",
					Path:    "desktop.background.style",
					Kind:    KindChoice,
					Choices: staticChoices("color", "cover", "contain", "repeat"),
					Default: "color",
				},
				{
					Label:          "Color",
					Path:           "desktop.background.color",
					Kind:           KindDialog,
					TransformValue: colorLabel,
					Dialog:         colorDialog,
					Default:        "#572a79",
				},
			},
		},
		{
			Title: "Themes",
			Items: []Item{
				{Label: "Style", Path: "desktop.theme", Kind: KindChoice, Choices: packageChoices(packages.TypeTheme, false)},
				{Label: "Icons", Path: "desktop.icons", Kind: KindChoice, Choices: packageChoices(packages.TypeIcons, false)},
				{Label: "Sounds", Path: "desktop.sounds", Kind: KindChoice, Choices: packageChoices(packages.TypeSounds, true)},
			},
		},
		{
			Title: "Desktop",
			Items: []Item{
				{
					Label:       "Enable desktop icons",
					Path:        "desktop.iconview.enabled",
					Kind:        KindChoice,
					Choices:     boolChoices,
					Description: "Show files from the desktop folder as icons",
				},
				{
					Label:   "Icon font color style",
					Path:    "desktop.iconview.fontColorStyle",
					Kind:    KindChoice,
					Choices: staticChoices("system", "invert", "custom"),
					Default: "system",
				},
				{
					Label:          "Icon font color",
					Path:           "desktop.iconview.fontColor",
					Kind:           KindDialog,
					TransformValue: colorLabel,
					Dialog:         colorDialog,
					Default:        "#ffffff",
				},
			},
		},
		{
			Title: "Locale",
			Items: []Item{
				{Label: "Language", Path: "locale.language", Kind: KindChoice, Choices: localeChoices},
				{Label: "Short date format", Path: "locale.format.shortDate", Kind: KindText},
				{Label: "Medium date format", Path: "locale.format.mediumDate", Kind: KindText},
				{Label: "Long date format", Path: "locale.format.longDate", Kind: KindText},
				{Label: "Full date format", Path: "locale.format.fullDate", Kind: KindText},
				{Label: "Time format", Path: "locale.format.timestamp", Kind: KindText},
			},
		},
	}
}

func staticChoices(values ...string) ChoicesFunc {
	choices := make([]Choice, len(values))
	for i, v := range values {
		choices[i] = Choice{Value: v, Label: strings.ToUpper(v[:1]) + v[1:]}
	}
	return func(ViewState) []Choice {
		return append([]Choice(nil), choices...)
	}
}

func boolChoices(ViewState) []Choice {
	return []Choice{
		{Value: "true", Label: "Yes"},
		{Value: "false", Label: "No"},
	}
}

func packageChoices(typ string, allowNone bool) ChoicesFunc {
	return func(state ViewState) []Choice {
		var out []Choice
		if allowNone {
			out = append(out, Choice{Value: "", Label: "None"})
		}
		for _, p := range state.Themes {
			if p.Type == typ {
				out = append(out, Choice{Value: p.Name, Label: p.Title})
			}
		}
		return out
	}
}

func localeChoices(state ViewState) []Choice {
	out := make([]Choice, 0, len(state.Locales))
	for _, l := range state.Locales {
		out = append(out, Choice{Value: l, Label: l})
	}
	return out
}

func fileDialog(item Item, _ ViewState, update UpdateFunc, raw any) DialogRequest {
	return DialogRequest{
		Kind: "file",
		Params: map[string]any{
			"type": "open",
			"mime": []string{"^image"},
			"path": FormatValue(raw),
		},
		Callback: OnConfirm(update, item.Path, filePath),
	}
}

func colorDialog(item Item, _ ViewState, update UpdateFunc, raw any) DialogRequest {
	return DialogRequest{
		Kind:     "color",
		Params:   map[string]any{"color": FormatValue(raw)},
		Callback: OnConfirm(update, item.Path, colorValue),
	}
}

// filePath accepts either a bare path or a file object with a "path" key.
func filePath(result any) (any, bool) {
	switch r := result.(type) {
	case string:
		return r, r != ""
	case map[string]any:
		p, ok := r["path"].(string)
		return p, ok && p != ""
	}
	return nil, false
}

// colorValue accepts a color string or an object with a "hex" key.
func colorValue(result any) (any, bool) {
	switch r := result.(type) {
	case string:
		return r, r != ""
	case map[string]any:
		h, ok := r["hex"].(string)
		return h, ok && h != ""
	}
	return nil, false
}

func fileLabel(v any) string {
	s := FormatValue(v)
	if s == "" {
		return "(none)"
	}
	return path.Base(s)
}

func colorLabel(v any) string {
	s := FormatValue(v)
	if c, err := colorful.Hex(s); err == nil {
		return c.Hex()
	}
	return s
}
