// Package field turns schema items into bound form controls.
package field

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kalambet/deskconf/internal/schema"
)

var (
	// ErrReadOnly is returned when a read-only control receives a value.
	ErrReadOnly = errors.New("control is read-only")
	// ErrInvalidValue is returned when a value does not fit the control.
	ErrInvalidValue = errors.New("invalid value")
	// ErrNoDialog is returned when activating a control without a dialog.
	ErrNoDialog = errors.New("control has no dialog")
)

// Opener presents dialog requests for a window.
type Opener interface {
	Open(req schema.DialogRequest, window string)
}

// Control is a rendered, bound form control.
type Control struct {
	Kind     string          `json:"kind"`
	Path     string          `json:"path"`
	Label    string          `json:"label"`
	Value    any             `json:"value"`
	Display  string          `json:"display"`
	Options  []schema.Choice `json:"options,omitempty"`
	ReadOnly bool            `json:"read_only,omitempty"`

	change   func(any) error
	activate func() error
}

// Change feeds a user-entered value through the control.
func (c Control) Change(v any) error {
	if c.change == nil {
		return fmt.Errorf("%s: %w", c.Path, ErrReadOnly)
	}
	return c.change(v)
}

// Activate triggers the control's dialog.
func (c Control) Activate() error {
	if c.activate == nil {
		return fmt.Errorf("%s: %w", c.Path, ErrNoDialog)
	}
	return c.activate()
}

// Binder builds a control for the current state. It may be called on every
// render.
type Binder func(state schema.ViewState, update schema.UpdateFunc) Control

// Strategy prepares a Binder for an item.
type Strategy func(item schema.Item) Binder

// Dispatcher picks a strategy per field kind. Dialogs open against window.
type Dispatcher struct {
	opener Opener
	window string
}

// NewDispatcher creates a Dispatcher. opener may be nil if no dialogs are
// ever activated.
func NewDispatcher(opener Opener, window string) *Dispatcher {
	return &Dispatcher{opener: opener, window: window}
}

// Dispatch returns the strategy for kind. Unknown kinds get the free-text
// strategy.
func (d *Dispatcher) Dispatch(kind schema.Kind) Strategy {
	switch kind {
	case schema.KindChoice:
		return d.choice
	case schema.KindDialog:
		return d.dialog
	case schema.KindToggle:
		return d.toggle
	case schema.KindText, schema.KindUnrecognized:
		return d.text
	default:
		return d.text
	}
}

// Bind dispatches on item.Kind and prepares its binder.
func (d *Dispatcher) Bind(item schema.Item) Binder {
	return d.Dispatch(item.Kind)(item)
}

// Section is a rendered schema section.
type Section struct {
	Title    string    `json:"title"`
	Controls []Control `json:"controls"`
}

// Render binds every item in reg.
func (d *Dispatcher) Render(reg schema.Registry, state schema.ViewState, update schema.UpdateFunc) []Section {
	out := make([]Section, 0, len(reg))
	for _, s := range reg {
		sec := Section{Title: s.Title, Controls: make([]Control, 0, len(s.Items))}
		for _, it := range s.Items {
			sec.Controls = append(sec.Controls, d.Bind(it)(state, update))
		}
		out = append(out, sec)
	}
	return out
}

func (d *Dispatcher) choice(item schema.Item) Binder {
	return func(state schema.ViewState, update schema.UpdateFunc) Control {
		v := item.Value(state)
		var opts []schema.Choice
		if item.Choices != nil {
			opts = item.Choices(state)
		}

		display := item.Display(v)
		if o, ok := findChoice(opts, v); ok {
			display = o.Label
		}

		return Control{
			Kind:    schema.KindChoice.String(),
			Path:    item.Path,
			Label:   item.Label,
			Value:   v,
			Display: display,
			Options: opts,
			change: func(sel any) error {
				o, ok := findChoice(opts, sel)
				if !ok {
					return fmt.Errorf("%s: %v is not one of the options: %w", item.Path, sel, ErrInvalidValue)
				}
				update(schema.Change{Path: item.Path, Value: o.Value})
				return nil
			},
		}
	}
}

func (d *Dispatcher) dialog(item schema.Item) Binder {
	return func(state schema.ViewState, update schema.UpdateFunc) Control {
		raw := item.Value(state)
		c := Control{
			Kind:     schema.KindDialog.String(),
			Path:     item.Path,
			Label:    item.Label,
			Value:    raw,
			Display:  item.Display(raw),
			ReadOnly: true,
		}
		if item.Dialog != nil && d.opener != nil {
			c.activate = func() error {
				d.opener.Open(item.Dialog(item, state, update, raw), d.window)
				return nil
			}
		}
		return c
	}
}

func (d *Dispatcher) text(item schema.Item) Binder {
	return func(state schema.ViewState, update schema.UpdateFunc) Control {
		v := item.Value(state)
		return Control{
			Kind:    schema.KindText.String(),
			Path:    item.Path,
			Label:   item.Label,
			Value:   v,
			Display: item.Display(v),
			change: func(raw any) error {
				update(schema.Change{Path: item.Path, Value: schema.FormatValue(raw)})
				return nil
			},
		}
	}
}

func (d *Dispatcher) toggle(item schema.Item) Binder {
	return func(state schema.ViewState, update schema.UpdateFunc) Control {
		v := item.Value(state)
		checked, _ := asBool(v)
		return Control{
			Kind:    schema.KindToggle.String(),
			Path:    item.Path,
			Label:   item.Label,
			Value:   checked,
			Display: strconv.FormatBool(checked),
			change: func(raw any) error {
				b, ok := asBool(raw)
				if !ok {
					return fmt.Errorf("%s: %v is not a boolean: %w", item.Path, raw, ErrInvalidValue)
				}
				update(schema.Change{Path: item.Path, Value: b})
				return nil
			},
		}
	}
}

func findChoice(opts []schema.Choice, v any) (schema.Choice, bool) {
	want := schema.FormatValue(v)
	for _, o := range opts {
		if schema.FormatValue(o.Value) == want {
			return o, true
		}
	}
	return schema.Choice{}, false
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}
