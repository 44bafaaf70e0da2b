package store

import (
	"errors"
	"sync"
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("store: lock held")

// Locker is a named exclusive lock with non-blocking acquisition. The returned
// release func must be called exactly once.
type Locker interface {
	TryLock(name string) (release func(), err error)
}

// MemLocker scopes locks to one process. Useful when every watcher runs as a
// goroutine of the same binary, and in tests.
type MemLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemLocker returns an empty in-process locker.
func NewMemLocker() *MemLocker {
	return &MemLocker{held: map[string]struct{}{}}
}

// TryLock acquires name or fails immediately with ErrLocked.
func (l *MemLocker) TryLock(name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[name]; ok {
		return nil, ErrLocked
	}
	l.held[name] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}

// FileLocker scopes locks to a host through lock files under dir.
type FileLocker struct {
	dir string
}

// NewFileLocker returns a locker that keeps <name>.lock files in dir.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{dir: dir}
}
