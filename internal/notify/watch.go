package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// OriginFS marks events raised by the filesystem watcher.
const OriginFS = "fs"

// WatchOptions tunes Watch.
type WatchOptions struct {
	// Debounce coalesces bursts of writes into one event.
	Debounce time.Duration
	// Quiet skips changes seen this soon after a locally published event,
	// which are most likely this process's own writes.
	Quiet time.Duration
}

// Watch publishes TopicSettingsChanged whenever a file in dir whose name
// starts with prefix is written by someone else. It blocks until ctx is
// cancelled.
func Watch(ctx context.Context, b *Broker, dir, prefix string, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if opts.Quiet <= 0 {
		opts.Quiet = time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	b.logger.Info("watching settings store", "dir", dir, "prefix", prefix)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(ev, prefix) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(opts.Debounce)
			} else {
				timer.Reset(opts.Debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if b.sinceLocal() < opts.Quiet {
				b.logger.Debug("ignoring local store write")
				continue
			}
			if err := b.Publish(ctx, Event{Topic: TopicSettingsChanged, Origin: OriginFS}); err != nil {
				b.logger.Warn("publishing store change", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("watcher error", "error", err)
		}
	}
}

func relevant(ev fsnotify.Event, prefix string) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	return strings.HasPrefix(filepath.Base(ev.Name), prefix)
}
