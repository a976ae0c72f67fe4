package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kalambet/deskconf/internal/tree"
)

// Settings is the editor-facing view of the store. Reads come from a cache
// filled by Load; writes are staged by Set and flushed together by Save.
type Settings struct {
	store *Store

	mu       sync.Mutex
	cache    map[string]tree.Tree
	staged   map[string]tree.Tree
	stageErr error
}

// NewSettings creates a Settings over store. Call Load before reading.
func NewSettings(store *Store) *Settings {
	return &Settings{
		store:  store,
		cache:  make(map[string]tree.Tree),
		staged: make(map[string]tree.Tree),
	}
}

// Load replaces the cache with the stored documents and drops staged writes.
func (s *Settings) Load(ctx context.Context) error {
	scopes, err := s.store.ListScopes(ctx)
	if err != nil {
		return fmt.Errorf("loading scopes: %w", err)
	}

	cache := make(map[string]tree.Tree, len(scopes))
	for _, sc := range scopes {
		cache[sc.Name] = sc.Document
	}

	s.mu.Lock()
	s.cache = cache
	s.staged = make(map[string]tree.Tree)
	s.stageErr = nil
	s.mu.Unlock()
	return nil
}

// Get returns the value at key within scope. An empty key returns the whole
// scope document. Staged writes are visible before they are saved.
func (s *Settings) Get(scope, key string, fallback any) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.current(scope)
	if !ok {
		return fallback
	}
	if key == "" {
		return tree.Clone(doc)
	}
	return tree.Resolve(doc, key, fallback)
}

// Set stages value at key within scope. An empty key replaces the whole
// scope document, which must then be a tree.
func (s *Settings) Set(scope, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		doc, ok := value.(map[string]any)
		if !ok && value != nil {
			s.stageErr = errors.Join(s.stageErr, fmt.Errorf("scope %s: document must be an object, got %T", scope, value))
			return
		}
		s.staged[scope] = tree.Clone(doc)
		return
	}

	doc, _ := s.current(scope)
	s.staged[scope] = tree.SetPath(doc, key, value)
}

// Save flushes staged writes. Staged writes are discarded whether or not
// the flush succeeds.
func (s *Settings) Save(ctx context.Context) error {
	s.mu.Lock()
	staged, stageErr := s.staged, s.stageErr
	s.staged = make(map[string]tree.Tree)
	s.stageErr = nil
	s.mu.Unlock()

	if stageErr != nil {
		return stageErr
	}
	if len(staged) == 0 {
		return nil
	}

	if err := s.store.PutScopes(ctx, staged); err != nil {
		return err
	}

	s.mu.Lock()
	for name, doc := range staged {
		s.cache[name] = doc
	}
	s.mu.Unlock()
	return nil
}

func (s *Settings) current(scope string) (tree.Tree, bool) {
	if doc, ok := s.staged[scope]; ok {
		return doc, true
	}
	doc, ok := s.cache[scope]
	return doc, ok
}
