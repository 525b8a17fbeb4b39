package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trobanga/s2ingest/internal/lib"
)

// LockFileName is the advisory lock file inside a run directory
const LockFileName = ".lock"

// errLockHeld is returned by tryLock when another process holds the lock
var errLockHeld = errors.New("lock held by another process")

// RunLock is an exclusive advisory lock on a run directory.
// Prevents two processes from driving the same run at once.
type RunLock struct {
	runID    string
	lockFile *os.File
	logger   *lib.Logger
}

// AcquireRunLock takes the run's lock without blocking.
// Fails with a run-locked error if another process holds it.
func AcquireRunLock(runsDir string, runID string, logger *lib.Logger) (*RunLock, error) {
	runDir := GetRunDir(runsDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	lockFile, err := os.OpenFile(filepath.Join(runDir, LockFileName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := tryLock(lockFile); err != nil {
		_ = lockFile.Close()
		if errors.Is(err, errLockHeld) {
			return nil, lib.ErrRunLocked(runID)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	lock := &RunLock{runID: runID, lockFile: lockFile, logger: logger}
	if err := lock.writeLockInfo(); err != nil {
		logger.Warn("Failed to write lock info", "run_id", runID, "error", err)
	}
	logger.Debug("Acquired run lock", "run_id", runID, "pid", os.Getpid())

	return lock, nil
}

// Release drops the lock. Safe to call more than once.
func (l *RunLock) Release() error {
	if l.lockFile == nil {
		return nil
	}

	if err := unlock(l.lockFile); err != nil {
		l.logger.Warn("Failed to release lock", "run_id", l.runID, "error", err)
	}
	if err := l.lockFile.Close(); err != nil {
		l.logger.Warn("Failed to close lock file", "run_id", l.runID, "error", err)
		return err
	}

	l.logger.Debug("Released run lock", "run_id", l.runID, "pid", os.Getpid())
	l.lockFile = nil
	return nil
}

// WithRunLock executes fn while holding the run's lock
func WithRunLock(runsDir string, runID string, logger *lib.Logger, fn func() error) error {
	lock, err := AcquireRunLock(runsDir, runID, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error("Failed to release run lock", "error", err)
		}
	}()

	return fn()
}

// IsRunLocked checks whether another process holds the run's lock
// without keeping it
func IsRunLocked(runsDir string, runID string) bool {
	lockFile, err := os.Open(filepath.Join(GetRunDir(runsDir, runID), LockFileName))
	if err != nil {
		return false
	}
	defer func() { _ = lockFile.Close() }()

	if err := tryLock(lockFile); err != nil {
		return errors.Is(err, errLockHeld)
	}
	_ = unlock(lockFile)
	return false
}

// writeLockInfo writes debug information to the lock file
func (l *RunLock) writeLockInfo() error {
	info := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	_ = l.lockFile.Truncate(0)
	_, _ = l.lockFile.Seek(0, 0)
	_, _ = l.lockFile.WriteString(info)
	return l.lockFile.Sync()
}
