package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Lock is the single job slot. It holds at most one job id. With a host
// flock attached, the slot is also exclusive across relay processes that
// share the same lock file.
type Lock struct {
	mu     sync.Mutex
	holder string
	host   hostLock
}

// hostLock is the cross-process part of Lock; *flock.Flock implements it.
type hostLock interface {
	TryLock() (bool, error)
	Unlock() error
	Path() string
}

// NewLock returns an in-process lock.
func NewLock() *Lock {
	return &Lock{}
}

// NewHostLock returns a lock that additionally takes an exclusive flock on
// path while a job holds the slot.
func NewHostLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("job lock: creating dir: %w", err)
	}
	return &Lock{host: flock.New(path)}, nil
}

// TryAcquire claims the slot for id. It never blocks: when the slot is
// taken it returns an *AlreadyRunningError naming the holder.
func (l *Lock) TryAcquire(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder != "" {
		return &AlreadyRunningError{ID: l.holder}
	}
	if l.host != nil {
		ok, err := l.host.TryLock()
		if err != nil {
			return fmt.Errorf("job lock: %s: %w", l.host.Path(), err)
		}
		if !ok {
			return &AlreadyRunningError{}
		}
	}
	l.holder = id
	return nil
}

// Release empties the slot if id still holds it and reports whether it did.
// The in-process slot is emptied even when the host flock cannot be
// released; that failure is returned so other relay processes staying
// locked out is visible.
func (l *Lock) Release(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id == "" || l.holder != id {
		return false, nil
	}
	l.holder = ""
	if l.host != nil {
		if err := l.host.Unlock(); err != nil {
			return true, fmt.Errorf("job lock: unlocking %s: %w", l.host.Path(), err)
		}
	}
	return true, nil
}

// Holder returns the id holding the slot, or "".
func (l *Lock) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}
