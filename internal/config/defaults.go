package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/deskconf/internal/tree"
)

//go:embed defaults.yaml
var builtinDefaults []byte

// Defaults is the read-only configuration document: the default settings
// tree under "defaults" and the available locales under "locales".
type Defaults struct {
	doc tree.Tree
}

// LoadDefaults parses the built-in document and merges the YAML file at
// overridePath over it. An empty or missing overridePath uses the
// built-in document alone.
func LoadDefaults(overridePath string) (*Defaults, error) {
	doc, err := parseYAML(builtinDefaults)
	if err != nil {
		return nil, fmt.Errorf("parsing built-in defaults: %w", err)
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("defaults file not found, using built-in defaults", "path", overridePath)
		case err != nil:
			return nil, fmt.Errorf("reading defaults file: %w", err)
		default:
			override, err := parseYAML(data)
			if err != nil {
				return nil, fmt.Errorf("parsing defaults file %s: %w", overridePath, err)
			}
			doc = tree.Merge(doc, override)
		}
	}

	return &Defaults{doc: doc}, nil
}

// Get resolves path in the configuration document. An empty path returns
// the whole document.
func (d *Defaults) Get(path string, fallback any) any {
	if path == "" {
		return tree.Clone(d.doc)
	}
	return tree.Resolve(d.doc, path, fallback)
}

// Locales returns the configured locale names.
func (d *Defaults) Locales() []string {
	raw, _ := d.doc["locales"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func parseYAML(data []byte) (tree.Tree, error) {
	doc := tree.Tree{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
