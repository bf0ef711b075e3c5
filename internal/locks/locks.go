// Package locks guards a data directory against a second GuardianEye process.
package locks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// FileName is the lock file inside the data directory.
const FileName = "guardianeye.lock"

// ErrLocked means another process holds the data directory.
var ErrLocked = errors.New("data directory is locked by another process")

// Lock is an advisory flock on a data directory.
type Lock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// Acquire takes the lock for dataDir without blocking. The file records the
// holder's pid and start time.
func Acquire(dataDir string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if pid, ok := Holder(dataDir); ok {
				return nil, fmt.Errorf("%w (pid %d)", ErrLocked, pid)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))

	return &Lock{path: path, file: f}, nil
}

// Holder returns the pid recorded in dataDir's lock file.
func Holder(dataDir string) (int, bool) {
	data, err := os.ReadFile(filepath.Join(dataDir, FileName))
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false
	}
	pid, err := strconv.Atoi(fields[0])
	return pid, err == nil
}

// Release drops the lock and removes the file. It is safe to call twice.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	os.Remove(l.path)
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	l.file = nil
}
