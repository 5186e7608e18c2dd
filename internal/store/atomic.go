package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jpsweeney97/phaser/internal/phaserr"
)

// lockBackoff is the retry schedule for advisory lock acquisition (§4.1).
var lockBackoff = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 1 * time.Second}

// withLock opens path (creating it if absent), takes an advisory flock in the
// given mode, and invokes fn with the open file. The lock is released and the
// file closed before withLock returns. Failure to acquire the lock after the
// full backoff schedule propagates phaserr.ErrLockTimeout.
func withLock(path string, exclusive bool, fn func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	defer f.Close()

	mode := syscall.LOCK_SH
	if exclusive {
		mode = syscall.LOCK_EX
	}

	var lockErr error
	for attempt := 0; attempt <= len(lockBackoff); attempt++ {
		lockErr = syscall.Flock(int(f.Fd()), mode|syscall.LOCK_NB)
		if lockErr == nil {
			break
		}
		if attempt < len(lockBackoff) {
			time.Sleep(lockBackoff[attempt])
		}
	}
	if lockErr != nil {
		return phaserr.Wrap(phaserr.Concurrency, fmt.Errorf("%w: %s: %v", phaserr.ErrLockTimeout, path, lockErr))
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn(f)
}

// atomicWrite writes data to path via a temp file in the same directory
// followed by fsync and rename, so a crash never leaves a partial file
// (§4.1 Atomicity). Caller is expected to already hold an exclusive lock on
// path if concurrent writers are possible.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return phaserr.Wrap(phaserr.Resource, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return phaserr.Wrap(phaserr.Resource, err)
	}
	if err := tmp.Close(); err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return phaserr.Wrap(phaserr.Resource, err)
	}
	return nil
}

// writeLocked takes an exclusive lock on path and atomically writes data.
func writeLocked(path string, data []byte) error {
	return withLock(path, true, func(*os.File) error {
		return atomicWrite(path, data)
	})
}

// readLocked takes a shared lock on path and returns its contents, or
// (nil, nil) if the file does not yet exist.
func readLocked(path string) ([]byte, error) {
	var data []byte
	err := withLock(path, false, func(f *os.File) error {
		info, err := f.Stat()
		if err != nil {
			return phaserr.Wrap(phaserr.Resource, err)
		}
		data = make([]byte, info.Size())
		_, err = f.ReadAt(data, 0)
		if err != nil && !errors.Is(err, io.EOF) {
			return phaserr.Wrap(phaserr.Resource, err)
		}
		return nil
	})
	return data, err
}
