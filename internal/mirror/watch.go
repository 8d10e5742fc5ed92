package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch timing defaults.
const (
	DefaultSettle       = 2 * time.Second
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// PassFunc receives the outcome of each pass Watch runs. Returning an error
// stops Watch.
type PassFunc func(report *Report, err error) error

// Watch runs a pass immediately and again whenever the local tree changes.
// Changes are batched: a pass starts once settle has elapsed without further
// events. Watch returns nil when ctx is canceled.
func (m *Mirror) Watch(ctx context.Context, settle time.Duration, onPass PassFunc) error {
	if settle <= 0 {
		settle = DefaultSettle
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mirror: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := m.addWatches(watcher, m.local); err != nil {
		return err
	}

	if err := m.pass(ctx, onPass); err != nil {
		return err
	}

	return m.watchLoop(ctx, watcher, settle, onPass)
}

func (m *Mirror) pass(ctx context.Context, onPass PassFunc) error {
	report, err := m.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}

	if onPass != nil {
		return onPass(report, err)
	}

	return err
}

func (m *Mirror) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, settle time.Duration, onPass PassFunc) error {
	timer := time.NewTimer(settle)
	timer.Stop()

	defer timer.Stop()

	pending := false
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// Mode changes are not copied.
			if ev.Op == fsnotify.Chmod {
				continue
			}

			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := m.addWatches(watcher, ev.Name); err != nil {
						m.logger.Warn("mirror: watching new folder", slog.String("error", err.Error()))
					}
				}
			}

			m.logger.Debug("mirror: local change",
				slog.String("path", ev.Name),
				slog.String("op", ev.Op.String()),
			)

			pending = true
			errBackoff = watchErrInitBackoff

			timer.Reset(settle)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			m.logger.Warn("mirror: filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := timeSleep(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)

		case <-timer.C:
			if !pending {
				continue
			}

			pending = false

			if err := m.pass(ctx, onPass); err != nil {
				return err
			}
		}
	}
}

// addWatches watches root and every folder beneath it. fsnotify is not
// recursive.
func (m *Mirror) addWatches(watcher *fsnotify.Watcher, root string) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// A folder removed while walking is picked up by the next pass.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if !d.IsDir() {
			return nil
		}

		return watcher.Add(p)
	})
	if err != nil {
		return fmt.Errorf("mirror: watching %s: %w", root, err)
	}

	return nil
}

func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
