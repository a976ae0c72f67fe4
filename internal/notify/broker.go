// Package notify is the publish/subscribe channel that tells open editors
// and desktop shells about saved settings.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Topics.
const (
	TopicSettingsChanged = "settings.changed"
	TopicApply           = "desktop.apply"
)

// Event is a published notification. Origin identifies the publisher so
// subscribers can skip their own events.
type Event struct {
	ID     string    `json:"id"`
	Topic  string    `json:"topic"`
	Origin string    `json:"origin"`
	Scopes []string  `json:"scopes,omitempty"`
	At     time.Time `json:"at"`
}

// Hook receives every published event. Hooks run concurrently.
type Hook interface {
	Notify(ctx context.Context, ev Event) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, ev Event) error

func (f HookFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Subscription delivers events on C until Close is called.
type Subscription struct {
	C <-chan Event

	id     uint64
	broker *Broker
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.broker.unsubscribe(s.id)
}

// Broker fans published events out to subscribers and hooks.
type Broker struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan Event
	hooks  []Hook

	lastLocal atomic.Int64
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		logger: slog.Default(),
		subs:   make(map[uint64]chan Event),
	}
}

// Subscribe registers a new subscriber. Events are dropped for a
// subscriber whose buffer is full.
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	return &Subscription{C: ch, id: id, broker: b}
}

func (b *Broker) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// AddHook registers h for all future events.
func (b *Broker) AddHook(h Hook) {
	b.mu.Lock()
	b.hooks = append(b.hooks, h)
	b.mu.Unlock()
}

// Publish delivers ev to every subscriber and runs all hooks. Missing ID and
// At fields are filled in. The first hook error is returned after all hooks
// finish.
func (b *Broker) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.Origin != OriginFS {
		b.lastLocal.Store(time.Now().UnixNano())
	}

	b.mu.RLock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber", "subscriber", id, "topic", ev.Topic)
		}
	}
	hooks := append([]Hook(nil), b.hooks...)
	b.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range hooks {
		g.Go(func() error {
			return h.Notify(gctx, ev)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("notifying hooks: %w", err)
	}
	return nil
}

// sinceLocal reports how long ago the last non-filesystem event was
// published.
func (b *Broker) sinceLocal() time.Duration {
	last := b.lastLocal.Load()
	if last == 0 {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(time.Unix(0, last))
}
