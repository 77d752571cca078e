// Package filelock serializes exports of the same recipe across processes
// with advisory file locks.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pkgcache/internal/clock"
)

// DefaultPollInterval is how often a contended lock is retried.
const DefaultPollInterval = 50 * time.Millisecond

var errContended = errors.New("lock is held")

// Locker acquires locks, polling while they are held elsewhere.
type Locker struct {
	Clock        clock.Clock
	PollInterval time.Duration
}

// Acquire blocks until path is locked exclusively or ctx is done. The
// parent directory is created as needed.
func (k *Locker) Acquire(ctx context.Context, path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	for {
		l, err := tryLock(path)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, errContended) {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w", path, ctx.Err())
		case <-k.clock().After(k.interval()):
		}
	}
}

// TryAcquire locks path without waiting. It returns nil, nil when the
// lock is held elsewhere.
func TryAcquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	l, err := tryLock(path)
	if errors.Is(err, errContended) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return l, nil
}

// Path of the lock file.
func (l *Lock) Path() string { return l.path }

func (k *Locker) clock() clock.Clock {
	if k.Clock == nil {
		return clock.Real()
	}
	return k.Clock
}

func (k *Locker) interval() time.Duration {
	if k.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return k.PollInterval
}
