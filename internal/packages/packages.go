// Package packages enumerates installed desktop packages such as themes,
// icon sets and sound sets.
package packages

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Package types used by the settings schema.
const (
	TypeTheme  = "theme"
	TypeIcons  = "icons"
	TypeSounds = "sounds"
)

// ManifestName is the file read from each package directory.
const ManifestName = "metadata.yaml"

// Package describes one installed package.
type Package struct {
	Name  string `yaml:"name" json:"name"`
	Type  string `yaml:"type" json:"type"`
	Title string `yaml:"title" json:"title"`
	Dir   string `yaml:"-" json:"dir,omitempty"`
}

// Builtin lists the packages that ship with the desktop.
func Builtin() []Package {
	return []Package{
		{Name: "StandardTheme", Type: TypeTheme, Title: "Standard Theme"},
		{Name: "GnomeIcons", Type: TypeIcons, Title: "Gnome Icons"},
		{Name: "FreedesktopSounds", Type: TypeSounds, Title: "Freedesktop Sounds"},
	}
}

// Registry holds the built-in packages plus any found under a directory.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu   sync.RWMutex
	pkgs []Package
}

// Load scans dir for package manifests. A missing dir yields only the
// built-in packages.
func Load(dir string) (*Registry, error) {
	r := &Registry{dir: dir, logger: slog.Default()}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rescans the package directory.
func (r *Registry) Reload() error {
	pkgs := Builtin()

	if r.dir != "" {
		found, err := scan(r.dir, r.logger)
		if err != nil {
			return err
		}
		pkgs = mergePackages(pkgs, found)
	}

	sort.SliceStable(pkgs, func(i, j int) bool {
		if pkgs[i].Type != pkgs[j].Type {
			return pkgs[i].Type < pkgs[j].Type
		}
		return pkgs[i].Name < pkgs[j].Name
	})

	r.mu.Lock()
	r.pkgs = pkgs
	r.mu.Unlock()
	return nil
}

// Packages returns the packages accepted by pred, in a stable order. A nil
// pred returns everything.
func (r *Registry) Packages(pred func(Package) bool) []Package {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Package
	for _, p := range r.pkgs {
		if pred == nil || pred(p) {
			out = append(out, p)
		}
	}
	return out
}

// OfType returns a predicate matching any of the given package types.
func OfType(types ...string) func(Package) bool {
	return func(p Package) bool {
		for _, t := range types {
			if p.Type == t {
				return true
			}
		}
		return false
	}
}

func scan(dir string, logger *slog.Logger) ([]Package, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading packages directory: %w", err)
	}

	var out []Package
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pkgDir := filepath.Join(dir, e.Name())
		p, err := readManifest(pkgDir)
		if err != nil {
			logger.Warn("skipping package", "dir", pkgDir, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func readManifest(dir string) (Package, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return Package{}, fmt.Errorf("reading manifest: %w", err)
	}

	var p Package
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Package{}, fmt.Errorf("parsing manifest: %w", err)
	}
	if p.Name == "" {
		p.Name = filepath.Base(dir)
	}
	if p.Type == "" {
		return Package{}, fmt.Errorf("manifest for %s has no type", p.Name)
	}
	if p.Title == "" {
		p.Title = p.Name
	}
	p.Dir = dir
	return p, nil
}

// mergePackages lets installed packages replace built-ins with the same name.
func mergePackages(builtin, installed []Package) []Package {
	byName := make(map[string]int, len(builtin))
	out := append([]Package(nil), builtin...)
	for i, p := range out {
		byName[p.Name] = i
	}
	for _, p := range installed {
		if i, ok := byName[p.Name]; ok {
			out[i] = p
			continue
		}
		byName[p.Name] = len(out)
		out = append(out, p)
	}
	return out
}
