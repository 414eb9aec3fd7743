// Package worktree provides scoped acquisition of the process working
// directory. A session with base_dir set has every tool call run from that
// directory; because the CWD is process-global, acquisition is serialized
// through a per-base-dir mutex and restoration is guaranteed on release.
package worktree

import (
	"fmt"
	"os"
	"sync"
)

// rebaser serializes CWD changes for one base directory.
type rebaser struct {
	mu sync.Mutex
}

var (
	registryMu sync.Mutex
	registry   = map[string]*rebaser{}
)

func rebaserFor(dir string) *rebaser {
	registryMu.Lock()
	defer registryMu.Unlock()
	r, ok := registry[dir]
	if !ok {
		r = &rebaser{}
		registry[dir] = r
	}
	return r
}

// Acquire chdirs into dir and returns a release function that restores the
// previous working directory. Only one holder per dir at a time; a second
// Acquire for the same dir blocks until the first releases. An empty dir is
// a no-op acquisition whose release does nothing.
func Acquire(dir string) (release func(), err error) {
	if dir == "" {
		return func() {}, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("base_dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base_dir %s is not a directory", dir)
	}

	r := rebaserFor(dir)
	r.mu.Lock()

	prev, err := os.Getwd()
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("chdir to base_dir %s: %w", dir, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = os.Chdir(prev)
			r.mu.Unlock()
		})
	}, nil
}
