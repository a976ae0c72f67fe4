package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/deskconf/internal/desktop"
	"github.com/kalambet/deskconf/internal/dialog"
	"github.com/kalambet/deskconf/internal/field"
	"github.com/kalambet/deskconf/internal/notify"
	"github.com/kalambet/deskconf/internal/schema"
	"github.com/kalambet/deskconf/internal/storage"
	"github.com/kalambet/deskconf/internal/viewmodel"
)

var (
	// ErrSessionNotFound is returned for unknown or closed session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDialogNotFound is returned when resolving a dialog that is not pending.
	ErrDialogNotFound = errors.New("dialog not found")
	// ErrUnknownPath is returned for key paths that no schema item edits.
	ErrUnknownPath = errors.New("unknown setting path")
)

// Session is one open editor: a view model, its controls and the dialogs
// it is waiting on.
type Session struct {
	ID      string
	Created time.Time

	model      *viewmodel.Model
	dispatcher *field.Dispatcher
	dialogs    *dialogQueue
	schema     schema.Registry

	sub    *notify.Subscription
	cancel context.CancelFunc
}

// Model returns the session's view model.
func (s *Session) Model() *viewmodel.Model { return s.model }

// Render binds every schema item against the current state.
func (s *Session) Render() []field.Section {
	return s.dispatcher.Render(s.schema, s.model.State(), s.model.Update)
}

// Control binds the item at path.
func (s *Session) Control(path string) (field.Control, error) {
	item, ok := s.schema.Lookup(path)
	if !ok {
		return field.Control{}, fmt.Errorf("%q: %w", path, ErrUnknownPath)
	}
	return s.dispatcher.Bind(item)(s.model.State(), s.model.Update), nil
}

// Dialogs lists the dialogs waiting for an answer.
func (s *Session) Dialogs() []PendingDialog { return s.dialogs.list() }

// ResolveDialog answers a pending dialog.
func (s *Session) ResolveDialog(id string, button schema.Button, result any) error {
	return s.dialogs.resolve(id, dialog.Outcome{Button: button, Result: result})
}

func (s *Session) close() {
	s.cancel()
	if s.sub != nil {
		s.sub.Close()
	}
	s.dialogs.dismissAll()
}

// SessionDeps are the shared collaborators of every session.
type SessionDeps struct {
	Store    *storage.Store
	Schema   schema.Registry
	Config   viewmodel.Configuration
	Packages viewmodel.PackageSource
	Broker   *notify.Broker
	Desktop  desktop.Applier
	Coerce   viewmodel.Coercions
	Logger   *slog.Logger
}

// Sessions tracks open editor sessions.
type Sessions struct {
	deps SessionDeps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates an empty session registry.
func NewSessions(deps SessionDeps) *Sessions {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Schema == nil {
		deps.Schema = schema.Desktop()
	}
	return &Sessions{deps: deps, sessions: make(map[string]*Session)}
}

func (m *Sessions) modelDeps() viewmodel.Deps {
	d := viewmodel.Deps{
		Persistence: storage.NewSettings(m.deps.Store),
		Config:      m.deps.Config,
		Packages:    m.deps.Packages,
		Desktop:     m.deps.Desktop,
		Coerce:      m.deps.Coerce,
		Logger:      m.deps.Logger,
	}
	if m.deps.Broker != nil {
		d.Notifier = m.deps.Broker
	}
	return d
}

// Open starts a session. It follows saves made elsewhere until closed.
func (m *Sessions) Open(ctx context.Context) (*Session, error) {
	model, err := viewmodel.Open(ctx, m.modelDeps())
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	queue := newDialogQueue()
	followCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         id,
		Created:    time.Now().UTC(),
		model:      model,
		dispatcher: field.NewDispatcher(dialog.NewBridge(queue), "session/"+id),
		dialogs:    queue,
		schema:     m.deps.Schema,
		cancel:     cancel,
	}
	if m.deps.Broker != nil {
		s.sub = m.deps.Broker.Subscribe(0)
		go model.Follow(followCtx, s.sub.C)
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.deps.Logger.Info("session opened", "session", id)
	return s, nil
}

// Get returns an open session.
func (m *Sessions) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close discards a session and its unsaved edits.
func (m *Sessions) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.close()
	m.deps.Logger.Info("session closed", "session", id)
	return nil
}

// CloseAll discards every session.
func (m *Sessions) CloseAll() {
	m.mu.Lock()
	open := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range open {
		s.close()
	}
}

// Len reports the number of open sessions.
func (m *Sessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SetValue edits one path in a short-lived session and saves it. Choice
// items only accept one of their options. Paths that Save would not keep
// fail with ErrUnknownPath.
func (m *Sessions) SetValue(ctx context.Context, path string, value any) error {
	model, err := viewmodel.Open(ctx, m.modelDeps())
	if err != nil {
		return err
	}
	if !model.Persists(path) {
		return fmt.Errorf("%q: %w", path, ErrUnknownPath)
	}

	item, ok := m.deps.Schema.Lookup(path)
	if ok && item.Kind == schema.KindChoice {
		ctl := field.NewDispatcher(nil, "").Bind(item)(model.State(), model.Update)
		if err := ctl.Change(value); err != nil {
			return err
		}
	} else {
		model.Update(schema.Change{Path: path, Value: value})
	}
	return model.Save(ctx)
}

// Choices lists the options of the choice item at path using the current
// settings.
func (m *Sessions) Choices(ctx context.Context, path string) ([]schema.Choice, error) {
	item, ok := m.deps.Schema.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%q: %w", path, ErrUnknownPath)
	}
	if item.Choices == nil {
		return []schema.Choice{}, nil
	}
	model, err := viewmodel.Open(ctx, m.modelDeps())
	if err != nil {
		return nil, err
	}
	return item.Choices(model.State()), nil
}

// PendingDialog is a dialog waiting for the client to answer.
type PendingDialog struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Window  string         `json:"window"`
	Params  map[string]any `json:"params,omitempty"`
	Created time.Time      `json:"created"`

	done func(dialog.Outcome)
}

// dialogQueue is the dialog host for HTTP clients: presented dialogs wait
// until the client posts an answer.
type dialogQueue struct {
	mu      sync.Mutex
	pending map[string]*PendingDialog
}

func newDialogQueue() *dialogQueue {
	return &dialogQueue{pending: make(map[string]*PendingDialog)}
}

func (q *dialogQueue) Present(req schema.DialogRequest, window string, done func(dialog.Outcome)) {
	d := &PendingDialog{
		ID:      uuid.New().String(),
		Kind:    req.Kind,
		Window:  window,
		Params:  req.Params,
		Created: time.Now().UTC(),
		done:    done,
	}
	q.mu.Lock()
	q.pending[d.ID] = d
	q.mu.Unlock()
}

func (q *dialogQueue) list() []PendingDialog {
	q.mu.Lock()
	out := make([]PendingDialog, 0, len(q.pending))
	for _, d := range q.pending {
		out = append(out, *d)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

func (q *dialogQueue) resolve(id string, o dialog.Outcome) error {
	q.mu.Lock()
	d, ok := q.pending[id]
	delete(q.pending, id)
	q.mu.Unlock()
	if !ok {
		return ErrDialogNotFound
	}
	d.done(o)
	return nil
}

func (q *dialogQueue) dismissAll() {
	q.mu.Lock()
	pending := q.pending
	q.pending = make(map[string]*PendingDialog)
	q.mu.Unlock()
	for _, d := range pending {
		d.done(dialog.Outcome{Button: schema.ButtonDismiss})
	}
}
