package storage

import (
	"errors"
	"time"

	"github.com/kalambet/deskconf/internal/tree"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Scope is one stored partition of the settings document.
type Scope struct {
	Name      string
	Document  tree.Tree
	Revision  int
	UpdatedAt time.Time
}

// Revision is a historical copy of a scope written by a save.
type Revision struct {
	ID       string
	Scope    string
	Revision int
	Document tree.Tree
	SavedAt  time.Time
}
