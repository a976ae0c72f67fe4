package desktop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/deskconf/internal/notify"
)

type chanPublisher struct {
	ch chan notify.Event
}

func (p *chanPublisher) Publish(_ context.Context, ev notify.Event) error {
	p.ch <- ev
	return nil
}

func TestChain(t *testing.T) {
	var mu sync.Mutex
	var order []int
	c := Chain{
		Func(func() { mu.Lock(); order = append(order, 1); mu.Unlock() }),
		Func(func() { mu.Lock(); order = append(order, 2); mu.Unlock() }),
	}
	c.ApplySettings()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v", order)
	}
}

func TestNewCommand_EmptyIsNop(t *testing.T) {
	if a := NewCommand(nil, 0); a != Nop {
		t.Errorf("NewCommand(nil) = %T, want Nop", a)
	}
}

func TestBroadcast_PublishesApply(t *testing.T) {
	p := &chanPublisher{ch: make(chan notify.Event, 1)}
	b := &Broadcast{Publisher: p, Origin: "editor-1"}

	b.ApplySettings()

	select {
	case ev := <-p.ch:
		if ev.Topic != notify.TopicApply || ev.Origin != "editor-1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no apply event published")
	}
}
