package bundle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-reads a path-backed artifact whenever the file changes and
// reports each reload outcome to onReload. It blocks until ctx is
// cancelled. Loaders without a Path have nothing to watch and return
// immediately.
//
// This is a rule-development facility used by the CLI; the SDK never
// starts it on its own.
func (l *Loader) Watch(ctx context.Context, onReload func(*Bundle, error)) error {
	if l.Path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("bundle: watch: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors typically replace the
	// file by rename, which drops a direct file watch.
	dir := filepath.Dir(l.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("bundle: watch %s: %w", dir, err)
	}

	target, err := filepath.Abs(l.Path)
	if err != nil {
		target = l.Path
	}

	const debounce = 250 * time.Millisecond
	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			onReload(l.Reload())
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil {
				name = event.Name
			}
			if name != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
