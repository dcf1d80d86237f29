package cache

import (
	"math"
	"sync"
	"time"
)

// Window rate-limits repeats of a key: the first sighting within the
// window is admitted, the rest are suppressed until the window rolls
// over. The logger's WarnOnce sits on it so a failure that fires on
// every span warns once per window instead of flooding the log.
type Window struct {
	mu      sync.Mutex
	seen    map[string]int64 // key -> admit time, unix milliseconds
	ttl     time.Duration
	maxSize int
}

// WindowConfig configures suppression.
type WindowConfig struct {
	// TTL is how long one admit suppresses its repeats. Zero or
	// negative means forever: a key admitted once is never admitted
	// again.
	TTL time.Duration

	// MaxSize bounds the tracked keys; the stalest are evicted past
	// it. Zero or negative means unbounded.
	MaxSize int
}

// NewWindow returns an empty suppression window.
func NewWindow(cfg WindowConfig) *Window {
	return &Window{
		seen:    make(map[string]int64),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
	}
}

// Admit reports whether key is outside its suppression window, and if
// so restarts the window. An empty key is never tracked and always
// admitted.
func (w *Window) Admit(key string) bool {
	return w.AdmitAt(key, time.Now())
}

// AdmitAt is Admit with an explicit clock, for tests.
func (w *Window) AdmitAt(key string, now time.Time) bool {
	if key == "" {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	at := now.UnixMilli()
	if last, ok := w.seen[key]; ok {
		// Suppressed hits do not slide the window; a condition that
		// fires continuously still resurfaces every TTL.
		if w.ttl <= 0 || at-last < w.ttl.Milliseconds() {
			return false
		}
	}
	w.seen[key] = at
	w.prune(at)
	return true
}

// Clear forgets all keys.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[string]int64)
}

// Size reports the number of tracked keys.
func (w *Window) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// prune drops expired keys and enforces the size bound. Admits happen
// at most once per key per window, so the linear scans stay off the
// span hot path.
func (w *Window) prune(at int64) {
	if w.ttl > 0 {
		cutoff := at - w.ttl.Milliseconds()
		for key, last := range w.seen {
			if last < cutoff {
				delete(w.seen, key)
			}
		}
	}

	if w.maxSize <= 0 {
		return
	}
	for len(w.seen) > w.maxSize {
		oldestKey := ""
		oldestAt := int64(math.MaxInt64)
		for key, last := range w.seen {
			if last < oldestAt {
				oldestAt = last
				oldestKey = key
			}
		}
		if oldestKey == "" {
			return
		}
		delete(w.seen, oldestKey)
	}
}
