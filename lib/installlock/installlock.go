// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package installlock prevents two sync sessions from writing the same
// install directory at once.
//
// The lock is an flock(2) on a file inside the install directory. The
// kernel releases it when the holder exits, so a crashed session never
// leaves a stale lock behind; the file itself is left in place and
// only carries the holder's pid for diagnostics.
package installlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// FileName is the lock file created in the install directory.
const FileName = ".chunksync.lock"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("install directory is locked by another session")

// Lock is a held install lock.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes the lock for installPath, creating the directory if
// needed. It never blocks: a held lock returns an error wrapping
// ErrLocked that names the holder's pid when known.
func Acquire(installPath string) (*Lock, error) {
	if err := os.MkdirAll(installPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating install directory: %w", err)
	}
	path := filepath.Join(installPath, FileName)

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid := holderPID(path); pid > 0 {
				return nil, fmt.Errorf("%w (pid %d)", ErrLocked, pid)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	metadata := fmt.Sprintf("pid=%d\nacquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := file.Truncate(0); err == nil {
		file.WriteAt([]byte(metadata), 0)
	}
	return &Lock{path: path, file: file}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	file := l.file
	l.file = nil
	unlockErr := unix.Flock(int(file.Fd()), unix.LOCK_UN)
	closeErr := file.Close()
	return errors.Join(unlockErr, closeErr)
}

func holderPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	for line := range strings.Lines(string(data)) {
		value, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(value)
		if err != nil {
			return 0
		}
		return pid
	}
	return 0
}
