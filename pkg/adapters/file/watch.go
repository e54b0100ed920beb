package file

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups bursts of file events (editors write in several
// steps) into one reload.
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the store whenever a graph document in its directory changes
// and reports each attempt to onReload (nil on success). It blocks until ctx
// is done.
func (s *GraphStore) Watch(ctx context.Context, debounce time.Duration, onReload func(error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsGraphDocument(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onReload != nil {
				onReload(fmt.Errorf("watch %s: %w", s.dir, err))
			}
		case <-timer.C:
			err := s.Reload()
			if onReload != nil {
				onReload(err)
			}
		}
	}
}
