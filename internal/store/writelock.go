package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// WriteLock serializes the storage-stage commit protocol per file path
// (spec §4.6: acquire lock → delete prior generation → insert new
// generation → insert into k-NN index). In-process callers race on a
// sharded mutex map; a companion gofrs/flock advisory lock, the same
// library internal/embed/lock.go uses for the model-download lock,
// guards against a second minara process touching the same path
// concurrently.
type WriteLock struct {
	dir string

	mu      sync.Mutex
	inUse   map[string]*sync.Mutex
	waiters map[string]int
}

// NewWriteLock creates a WriteLock. Cross-process lock files are
// written under dir; dir is created lazily on first acquisition.
func NewWriteLock(dir string) *WriteLock {
	return &WriteLock{
		dir:     dir,
		inUse:   make(map[string]*sync.Mutex),
		waiters: make(map[string]int),
	}
}

// Acquire blocks until the calling goroutine holds the in-process lock
// for path and the cross-process advisory lock is acquired. The
// returned release function must be called exactly once.
func (w *WriteLock) Acquire(path string) (release func(), err error) {
	local := w.lockLocal(path)

	fl, lockErr := w.lockCrossProcess(path)
	if lockErr != nil {
		w.unlockLocal(path, local)
		return nil, lockErr
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		if fl != nil {
			_ = fl.Unlock()
		}
		w.unlockLocal(path, local)
	}, nil
}

func (w *WriteLock) lockLocal(path string) *sync.Mutex {
	w.mu.Lock()
	m, ok := w.inUse[path]
	if !ok {
		m = &sync.Mutex{}
		w.inUse[path] = m
	}
	w.waiters[path]++
	w.mu.Unlock()

	m.Lock()
	return m
}

func (w *WriteLock) unlockLocal(path string, m *sync.Mutex) {
	m.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.waiters[path]--
	if w.waiters[path] <= 0 {
		delete(w.waiters, path)
		delete(w.inUse, path)
	}
}

func (w *WriteLock) lockCrossProcess(path string) (*flock.Flock, error) {
	if w.dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create write-lock directory: %w", err)
	}

	lockPath := filepath.Join(w.dir, lockFileName(path))
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("failed to acquire write lock for %q: %w", path, err)
	}
	return fl, nil
}

// lockFileName derives a filesystem-safe lock file name from a document
// path. The sanitized path stays for readability; the hash suffix
// guarantees two different paths never collide onto the same lock file
// even after sanitization or truncation.
func lockFileName(path string) string {
	safe := make([]byte, 0, 64)
	for i := 0; i < len(path) && i < 64; i++ {
		c := path[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			safe = append(safe, c)
		default:
			safe = append(safe, '_')
		}
	}

	sum := sha256.Sum256([]byte(path))
	return fmt.Sprintf("%s-%s.lock", safe, hex.EncodeToString(sum[:8]))
}
