package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/tonimelisma/netdisk-go/internal/config"
)

const (
	lockFilePermissions = 0o644
	lockDirPermissions  = 0o700
)

// watchLockPath returns the lock file guarding one backup --watch target,
// keyed by backend and absolute local folder.
func watchLockPath(backendName, localDir string) (string, error) {
	dataDir := config.DefaultDataDir()
	if dataDir == "" {
		return "", errors.New("cannot determine data directory for the watch lock")
	}

	abs, err := filepath.Abs(localDir)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", localDir, err)
	}

	sum := sha256.Sum256([]byte(backendName + "\x00" + abs))

	return filepath.Join(dataDir, "watch", hex.EncodeToString(sum[:8])+".pid"), nil
}

// acquireWatchLock writes the current process ID to path and holds an
// exclusive flock on it. The returned func removes the file and releases the
// lock. Failing to lock means another watcher owns the target.
func acquireWatchLock(path string) (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), lockDirPermissions); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	// Non-blocking: fail at once if another process holds it.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil { //nolint:gosec // fd fits in int
		f.Close()

		return nil, fmt.Errorf("another backup --watch is already running for this folder (could not lock %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating lock file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}
