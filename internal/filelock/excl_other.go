//go:build !unix

package filelock

import (
	"errors"
	"io/fs"
	"os"
)

// Lock is a held lock. Without flock the lock file exists only while held,
// so a crashed holder leaves it behind and it must be removed by hand.
type Lock struct {
	path string
	f    *os.File
}

func tryLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, errContended
	}
	if err != nil {
		return nil, err
	}
	return &Lock{path: path, f: f}, nil
}

// Release closes and removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(l.path)
}
