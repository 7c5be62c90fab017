// Package pidlock refuses to start a second bot process against the same lock file.
package pidlock

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

// ErrLocked reports a live process holding the lock.
var ErrLocked = errors.New("pidlock: already locked by a running process")

const (
	ownerReadAttempts = 5
	ownerReadBackoff  = 20 * time.Millisecond
	// An unparsable lock file younger than unreadableGrace may still be receiving its pid.
	unreadableGrace = 2 * time.Second
)

// Lock is a held process lock.
type Lock struct {
	path string
	pid  int
}

// Acquire writes the current pid to path. A lock left by a dead process is reclaimed.
func Acquire(path string) (*Lock, error) {
	return acquire(path, os.Getpid(), processAlive)
}

func acquire(path string, pid int, alive func(int) bool) (*Lock, error) {
	if path == "" {
		return nil, fmt.Errorf("acquire lock: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, writeErr := file.WriteString(strconv.Itoa(pid) + "\n")
			closeErr := file.Close()
			if writeErr != nil || closeErr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock %s: %w", path, errors.Join(writeErr, closeErr))
			}
			return &Lock{path: path, pid: pid}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}

		owner, readErr := settledOwner(path)
		switch {
		case errors.Is(readErr, os.ErrNotExist):
			continue
		case readErr != nil:
			info, statErr := os.Stat(path)
			if statErr == nil && time.Since(info.ModTime()) < unreadableGrace {
				return nil, fmt.Errorf("acquire lock %s: owner not written yet: %w", path, ErrLocked)
			}
		case owner != pid && alive(owner):
			return nil, fmt.Errorf("acquire lock %s held by pid %d: %w", path, owner, ErrLocked)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reclaim stale lock %s: %w", path, err)
		}
	}

	return nil, fmt.Errorf("acquire lock %s: %w", path, ErrLocked)
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file if it still belongs to this process.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	owner, err := readOwner(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && owner != l.pid {
		return fmt.Errorf("release lock %s: owned by pid %d", l.path, owner)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}

	return nil
}

// settledOwner reads the lock owner, backing off while the file is empty or partially written.
func settledOwner(path string) (int, error) {
	var err error
	for attempt := 0; attempt < ownerReadAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(ownerReadBackoff)
		}
		var owner int
		owner, err = readOwner(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return owner, err
		}
	}

	return 0, err
}

func readOwner(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse lock owner: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("parse lock owner: invalid pid %d", pid)
	}

	return pid, nil
}

// processAlive probes pid with signal 0. EPERM means the process exists under another user.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
