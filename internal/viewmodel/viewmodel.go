// Package viewmodel holds the state of one settings editing session and
// exposes the update, save and refresh operations over it.
package viewmodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/deskconf/internal/desktop"
	"github.com/kalambet/deskconf/internal/notify"
	"github.com/kalambet/deskconf/internal/packages"
	"github.com/kalambet/deskconf/internal/schema"
	"github.com/kalambet/deskconf/internal/tree"
)

// ErrSaveInFlight is returned by Save when another save of the same model
// has not finished. The dropped call has no effect.
var ErrSaveInFlight = errors.New("save already in progress")

// Persistence stores settings documents by scope. Set stages a write; Save
// flushes all staged writes.
type Persistence interface {
	Load(ctx context.Context) error
	Get(scope, key string, fallback any) any
	Set(scope, key string, value any)
	Save(ctx context.Context) error
}

// Configuration is the read-only configuration holding defaults and the
// locale list.
type Configuration interface {
	Get(path string, fallback any) any
}

// PackageSource enumerates installed theme packages.
type PackageSource interface {
	Packages(pred func(packages.Package) bool) []packages.Package
}

// Notifier announces saved settings to other sessions.
type Notifier interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// Deps are the collaborators of a Model. Only Persistence is required.
type Deps struct {
	Persistence Persistence
	Config      Configuration
	Packages    PackageSource
	Desktop     desktop.Applier
	Notifier    Notifier

	// Scopes maps persistence scopes to the top-level settings key they
	// hold. Defaults to DefaultScopes.
	Scopes map[string]string
	Coerce Coercions
	Logger *slog.Logger

	// OnChange is called with the new state after every transition.
	OnChange func(schema.ViewState)
}

// DefaultScopes returns the scopes of the desktop settings document.
func DefaultScopes() map[string]string {
	return map[string]string{
		"deskconf/desktop": "desktop",
		"deskconf/locale":  "locale",
	}
}

// Model is one editing session.
type Model struct {
	id       string
	persist  Persistence
	desktop  desktop.Applier
	notifier Notifier
	scopes   []scopeKey
	coerce   Coercions
	logger   *slog.Logger
	onChange func(schema.ViewState)

	saving *semaphore.Weighted
	// io serializes persistence access between Save and Refresh.
	io sync.Mutex

	mu    sync.Mutex
	state schema.ViewState
}

type scopeKey struct {
	scope string
	key   string
}

// Open loads persisted settings, defaults, locales and packages, and
// returns a Model holding the resulting snapshot.
func Open(ctx context.Context, deps Deps) (*Model, error) {
	if deps.Persistence == nil {
		return nil, errors.New("viewmodel: persistence is required")
	}

	m := &Model{
		id:       uuid.New().String(),
		persist:  deps.Persistence,
		desktop:  deps.Desktop,
		notifier: deps.Notifier,
		coerce:   deps.Coerce,
		logger:   deps.Logger,
		onChange: deps.OnChange,
		saving:   semaphore.NewWeighted(1),
	}
	if m.desktop == nil {
		m.desktop = desktop.Nop
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	scopes := deps.Scopes
	if scopes == nil {
		scopes = DefaultScopes()
	}
	for scope, key := range scopes {
		m.scopes = append(m.scopes, scopeKey{scope: scope, key: key})
	}
	sort.Slice(m.scopes, func(i, j int) bool { return m.scopes[i].scope < m.scopes[j].scope })

	if err := m.persist.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	m.state = schema.ViewState{
		Settings: m.readSettings(),
		Defaults: tree.Tree{},
	}
	if deps.Config != nil {
		if d, ok := deps.Config.Get("defaults", nil).(map[string]any); ok {
			m.state.Defaults = d
		}
		m.state.Locales = toStrings(deps.Config.Get("locales", nil))
	}
	if deps.Packages != nil {
		m.state.Themes = deps.Packages.Packages(nil)
	}

	m.logger.Debug("editor session opened", "session", m.id, "scopes", len(m.scopes))
	return m, nil
}

// ID identifies the model. Events it publishes carry it as their origin.
func (m *Model) ID() string { return m.id }

// State returns the current state. The trees it holds must be treated as
// read-only.
func (m *Model) State() schema.ViewState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Update coerces change.Value for its path and writes it to the working
// settings.
func (m *Model) Update(change schema.Change) {
	v := m.coerce.Apply(change.Path, change.Value)
	m.dispatch(Update{Path: change.Path, Value: v})
}

// Persists reports whether a value written at path would be kept by Save.
// The path needs a scope key as its first segment, at least one key below
// it and no empty segments.
func (m *Model) Persists(path string) bool {
	segs := tree.Split(path)
	if len(segs) < 2 || slices.Contains(segs, "") {
		return false
	}
	return slices.ContainsFunc(m.scopes, func(sk scopeKey) bool { return sk.key == segs[0] })
}

// Save writes the working settings to persistence. While a save is running
// further calls return ErrSaveInFlight. On failure the working settings are
// kept so the save can be retried. Scopes absent from both the working
// settings and persistence are not written.
func (m *Model) Save(ctx context.Context) error {
	if !m.saving.TryAcquire(1) {
		m.logger.Debug("save dropped, another save is running", "session", m.id)
		return ErrSaveInFlight
	}
	defer m.saving.Release(1)

	settings := m.dispatch(Save{}).Settings

	m.io.Lock()
	names := make([]string, 0, len(m.scopes))
	for _, sk := range m.scopes {
		doc, ok := settings[sk.key]
		if !ok || doc == nil {
			// Nothing edited and nothing stored: leave the scope unwritten.
			if m.persist.Get(sk.scope, "", nil) == nil {
				continue
			}
			doc = tree.Tree{}
		}
		m.persist.Set(sk.scope, "", doc)
		names = append(names, sk.scope)
	}
	err := m.persist.Save(ctx)
	m.io.Unlock()

	m.dispatch(SetLoading{Loading: false})

	if err != nil {
		m.logger.Error("saving settings", "session", m.id, "error", err)
		return fmt.Errorf("saving settings: %w", err)
	}

	go m.desktop.ApplySettings()

	if m.notifier != nil {
		ev := notify.Event{Topic: notify.TopicSettingsChanged, Origin: m.id, Scopes: names}
		if err := m.notifier.Publish(ctx, ev); err != nil {
			m.logger.Warn("announcing saved settings", "session", m.id, "error", err)
		}
	}
	m.logger.Info("settings saved", "session", m.id, "scopes", names)
	return nil
}

// Refresh reloads persisted settings and discards unsaved edits.
func (m *Model) Refresh(ctx context.Context) error {
	m.io.Lock()
	err := m.persist.Load(ctx)
	var settings tree.Tree
	if err == nil {
		settings = m.readSettings()
	}
	m.io.Unlock()

	if err != nil {
		m.logger.Error("refreshing settings", "session", m.id, "error", err)
		return fmt.Errorf("refreshing settings: %w", err)
	}
	m.dispatch(Refresh{Settings: settings})
	return nil
}

// Follow refreshes the model whenever another origin saves settings. It
// returns when ctx is done or events is closed.
func (m *Model) Follow(ctx context.Context, events <-chan notify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Topic != notify.TopicSettingsChanged || ev.Origin == m.id {
				continue
			}
			m.logger.Debug("settings changed elsewhere", "session", m.id, "origin", ev.Origin)
			_ = m.Refresh(ctx)
		}
	}
}

func (m *Model) dispatch(cmd Command) schema.ViewState {
	m.mu.Lock()
	m.state = Reduce(m.state, cmd)
	state := m.state
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(state)
	}
	return state
}

// readSettings assembles the working tree from the persisted scopes.
func (m *Model) readSettings() tree.Tree {
	out := tree.Tree{}
	for _, sk := range m.scopes {
		doc := m.persist.Get(sk.scope, "", nil)
		if doc == nil {
			continue
		}
		out[sk.key] = doc
	}
	return out
}

func toStrings(v any) []string {
	switch vals := v.(type) {
	case []string:
		return append([]string(nil), vals...)
	case []any:
		out := make([]string, 0, len(vals))
		for _, x := range vals {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
