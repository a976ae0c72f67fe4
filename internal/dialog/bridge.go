// Package dialog routes dialog requests from form controls to the hosting
// environment and feeds the outcome back to the request's callback.
package dialog

import (
	"log/slog"

	"github.com/kalambet/deskconf/internal/schema"
)

// Outcome is how a dialog closed.
type Outcome struct {
	Button schema.Button
	Result any
	Err    error
}

// Host shows dialogs. Present must call done exactly once, possibly from
// another goroutine, after the dialog closes.
type Host interface {
	Present(req schema.DialogRequest, window string, done func(Outcome))
}

// HostFunc adapts a function to Host.
type HostFunc func(req schema.DialogRequest, window string, done func(Outcome))

func (f HostFunc) Present(req schema.DialogRequest, window string, done func(Outcome)) {
	f(req, window, done)
}

// Bridge passes requests through to a Host. It does not interpret dialog
// kinds.
type Bridge struct {
	host   Host
	logger *slog.Logger
}

// NewBridge creates a Bridge over host.
func NewBridge(host Host) *Bridge {
	return &Bridge{host: host, logger: slog.Default()}
}

// Open presents req scoped to window. Failed dialogs are logged and leave
// state untouched.
func (b *Bridge) Open(req schema.DialogRequest, window string) {
	b.logger.Debug("opening dialog", "kind", req.Kind, "window", window)
	b.host.Present(req, window, func(o Outcome) {
		if o.Err != nil {
			b.logger.Warn("dialog failed", "kind", req.Kind, "window", window, "error", o.Err)
			return
		}
		if req.Callback == nil {
			return
		}
		req.Callback(o.Button, o.Result)
	})
}
