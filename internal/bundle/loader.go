package bundle

import (
	_ "embed"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

//go:embed bundle.yaml
var embeddedArtifact []byte

// Loader resolves the rule bundle exactly once and hands out the same
// decoded copy afterwards. When Path is set the artifact is read from
// disk instead of the embedded copy; that is the rule-development
// workflow, production always runs embedded.
type Loader struct {
	// Path optionally overrides the embedded artifact.
	Path string

	once    sync.Once
	current atomic.Pointer[Bundle]
	err     error
}

// NewLoader returns a loader for the embedded artifact, or for path
// when non-empty.
func NewLoader(path string) *Loader {
	return &Loader{Path: path}
}

// Load decodes and validates the artifact on first call and memoizes
// the outcome, error included: a corrupt artifact stays corrupt, so
// re-decoding per span would only burn cycles. A later successful
// Reload supersedes a failed first load.
func (l *Loader) Load() (*Bundle, error) {
	l.once.Do(func() {
		data, err := l.read()
		if err != nil {
			l.err = err
			return
		}
		b, err := Decode(data)
		if err != nil {
			l.err = err
			return
		}
		l.current.Store(b)
	})

	if b := l.current.Load(); b != nil {
		return b, nil
	}
	return nil, l.err
}

func (l *Loader) read() ([]byte, error) {
	if l.Path != "" {
		data, err := os.ReadFile(l.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrMissing, l.Path)
			}
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return data, nil
	}
	if len(embeddedArtifact) == 0 {
		return nil, ErrMissing
	}
	return embeddedArtifact, nil
}

// Reload re-reads the artifact from disk and atomically swaps it in on
// success. It only applies to path-backed loaders; the embedded
// artifact cannot change at runtime. Failed reloads keep the previous
// bundle.
func (l *Loader) Reload() (*Bundle, error) {
	if l.Path == "" {
		return l.Load()
	}

	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	b, err := Decode(data)
	if err != nil {
		return nil, err
	}

	l.current.Store(b)
	return b, nil
}

// Current returns the most recently loaded bundle without triggering a
// load, nil when nothing is loaded yet.
func (l *Loader) Current() *Bundle {
	return l.current.Load()
}
