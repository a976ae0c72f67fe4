// Package desktop tells the running desktop to pick up saved settings.
package desktop

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/kalambet/deskconf/internal/notify"
)

// Applier makes saved settings take effect. ApplySettings must not block;
// callers do not wait for or observe the result.
type Applier interface {
	ApplySettings()
}

// Func adapts a function to Applier.
type Func func()

func (f Func) ApplySettings() { f() }

type nop struct{}

func (nop) ApplySettings() {}

// Nop does nothing.
var Nop Applier = nop{}

// Chain applies each applier in order.
type Chain []Applier

func (c Chain) ApplySettings() {
	for _, a := range c {
		a.ApplySettings()
	}
}

// Command runs an external program to reload desktop settings.
type Command struct {
	Argv    []string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewCommand builds a Command from argv. An empty argv yields Nop.
func NewCommand(argv []string, timeout time.Duration) Applier {
	if len(argv) == 0 {
		return Nop
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Command{Argv: argv, Timeout: timeout, Logger: slog.Default()}
}

func (c *Command) ApplySettings() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
		defer cancel()

		out, err := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...).CombinedOutput()
		if err != nil {
			c.Logger.Warn("apply command failed", "command", c.Argv[0], "error", err, "output", string(out))
			return
		}
		c.Logger.Debug("apply command finished", "command", c.Argv[0])
	}()
}

// Publisher is the part of notify.Broker used by Broadcast.
type Publisher interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// Broadcast announces TopicApply so connected desktop shells reload.
type Broadcast struct {
	Publisher Publisher
	Origin    string
	Logger    *slog.Logger
}

func (b *Broadcast) ApplySettings() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := b.Publisher.Publish(ctx, notify.Event{Topic: notify.TopicApply, Origin: b.Origin})
		if err != nil {
			logger := b.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("broadcasting apply", "error", err)
		}
	}()
}
