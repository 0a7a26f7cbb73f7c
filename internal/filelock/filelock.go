// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package filelock provides non-blocking advisory file locks used to keep a
// single gptbot instance per state directory.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// ErrAlreadyLocked indicates the lock is currently held by another process.
var ErrAlreadyLocked = errors.New("already locked")

// Lock represents a held file lock.
type Lock interface{ Release() error }

type fileLock struct{ file *os.File }

// Acquire takes an exclusive lock on path without blocking and records
// payload in the file, so that [Holder] can report who holds the lock.
//
// If another process holds the lock, the returned error wraps
// [ErrAlreadyLocked] and mentions the holder's payload.
func Acquire(path, payload string) (Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := flock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrAlreadyLocked) {
			if holder, herr := Holder(path); herr == nil && holder != "" {
				return nil, fmt.Errorf("%w by %s", ErrAlreadyLocked, holder)
			}
		}
		return nil, err
	}

	l := &fileLock{file: f}
	if payload == "" {
		return l, nil
	}
	if err := f.Truncate(0); err != nil {
		return nil, errors.Join(err, l.Release())
	}
	if _, err := f.WriteAt([]byte(payload), 0); err != nil {
		return nil, errors.Join(err, l.Release())
	}
	return l, nil
}

// Holder returns the payload recorded by the current or last lock holder.
func Holder(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// IsLocked reports whether path is currently locked by another process.
func IsLocked(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer f.Close()

	if err := flock(f); err != nil {
		return errors.Is(err, ErrAlreadyLocked)
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false
}

func flock(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
		return ErrAlreadyLocked
	}
	return err
}

func (l *fileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return errors.Join(err, l.file.Close())
}
