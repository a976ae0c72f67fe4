package viewmodel

import (
	"github.com/kalambet/deskconf/internal/schema"
	"github.com/kalambet/deskconf/internal/tree"
)

// Command is a state transition understood by Reduce.
type Command interface {
	command()
}

// Update sets one path in the working settings. The value is expected to be
// coerced already.
type Update struct {
	Path  string
	Value any
}

// Save marks the state as saving. It is ignored while a save is running.
type Save struct{}

// Refresh replaces the working settings with a freshly loaded tree.
type Refresh struct {
	Settings tree.Tree
}

// SetLoading sets the loading flag directly.
type SetLoading struct {
	Loading bool
}

func (Update) command()     {}
func (Save) command()       {}
func (Refresh) command()    {}
func (SetLoading) command() {}

// Reduce returns the state that results from applying cmd to s. It never
// modifies s or the trees it refers to.
func Reduce(s schema.ViewState, cmd Command) schema.ViewState {
	switch c := cmd.(type) {
	case Update:
		s.Settings = tree.SetPath(s.Settings, c.Path, c.Value)
	case Save:
		if !s.Loading {
			s.Loading = true
		}
	case Refresh:
		s.Settings = tree.Clone(c.Settings)
		if s.Settings == nil {
			s.Settings = tree.Tree{}
		}
	case SetLoading:
		s.Loading = c.Loading
	}
	return s
}
