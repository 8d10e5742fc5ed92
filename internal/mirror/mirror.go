// Package mirror copies a local directory tree onto a netdisk.FileSystem.
//
// A pass walks both sides, plans the actions needed to make the remote match
// the local tree, and executes them: deletions first, then folders in
// parent-before-child order, then uploads through a bounded worker pool.
// Files whose remote copy has the same size and is at least as new as the
// local one are left alone, so repeated passes only move what changed.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	gosync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
	"github.com/tonimelisma/netdisk-go/internal/ratelimit"
)

// DefaultWorkers is the upload pool size when Options.Workers is unset.
const DefaultWorkers = 4

// ActionType identifies what a planned Action does.
type ActionType int

const (
	ActionDelete ActionType = iota
	ActionMkdir
	ActionUpload
)

func (t ActionType) String() string {
	switch t {
	case ActionDelete:
		return "delete"
	case ActionMkdir:
		return "mkdir"
	case ActionUpload:
		return "upload"
	default:
		return fmt.Sprintf("ActionType(%d)", int(t))
	}
}

// Action is one planned change to the remote side. Path is relative to the
// remote root and always starts with "/".
type Action struct {
	Type  ActionType
	Path  string
	Local string
	Size  uint64
}

// ActionError records an action that failed without stopping the pass.
type ActionError struct {
	Action Action
	Err    error
}

// Report summarizes one pass.
type Report struct {
	Deleted   int
	Created   int
	Uploaded  int
	Unchanged int
	Bytes     uint64
	Errors    []ActionError
}

// Failed returns the number of actions that failed.
func (r *Report) Failed() int { return len(r.Errors) }

// Options configure a Mirror.
type Options struct {
	// Local is the directory to copy from.
	Local string
	// Remote receives the tree; paths are relative to its base path.
	Remote netdisk.FileSystem
	// Workers bounds concurrent uploads. Zero means DefaultWorkers.
	Workers int
	// Delete removes remote entries that do not exist locally.
	Delete bool
	Logger *slog.Logger
}

// Mirror runs passes from one local directory to one remote.
type Mirror struct {
	local   string
	remote  netdisk.FileSystem
	workers int
	delete  bool
	logger  *slog.Logger
}

// New returns a Mirror for opts.
func New(opts Options) *Mirror {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Mirror{
		local:   opts.Local,
		remote:  opts.Remote,
		workers: workers,
		delete:  opts.Delete,
		logger:  logger,
	}
}

type localEntry struct {
	path  string
	isDir bool
	info  fs.FileInfo
}

// Plan compares both trees and returns the actions a pass would execute,
// plus the number of files already up to date.
func (m *Mirror) Plan(ctx context.Context) ([]Action, int, error) {
	local, err := m.scanLocal()
	if err != nil {
		return nil, 0, err
	}

	remote, err := m.scanRemote(ctx)
	if err != nil {
		return nil, 0, err
	}

	var (
		deletes, mkdirs, uploads []Action
		unchanged                int
	)

	for _, rel := range sortedKeys(local) {
		le := local[rel]
		re, exists := remote[rel]

		if exists && re.IsDir != le.isDir {
			deletes = append(deletes, Action{Type: ActionDelete, Path: rel})
			exists = false
		}

		if le.isDir {
			if !exists {
				mkdirs = append(mkdirs, Action{Type: ActionMkdir, Path: rel, Local: le.path})
			}

			continue
		}

		size := uint64(le.info.Size()) //nolint:gosec // regular file sizes are non-negative
		if exists && upToDate(re, size, le.info) {
			unchanged++
			continue
		}

		uploads = append(uploads, Action{Type: ActionUpload, Path: rel, Local: le.path, Size: size})
	}

	if m.delete {
		deletes = append(deletes, extraneous(local, remote)...)
	}

	actions := make([]Action, 0, len(deletes)+len(mkdirs)+len(uploads))
	actions = append(actions, deletes...)
	actions = append(actions, mkdirs...)
	actions = append(actions, uploads...)

	return actions, unchanged, nil
}

// upToDate reports whether the remote copy can be kept. Backends that do
// not report modification times are compared by size alone.
func upToDate(remote netdisk.FileInfo, size uint64, local fs.FileInfo) bool {
	if remote.Size != size {
		return false
	}

	if remote.ModifiedAt.IsZero() {
		return true
	}

	return !remote.ModifiedAt.Before(netdisk.Millis(local.ModTime()))
}

// extraneous returns deletions for remote entries missing locally. Only the
// topmost missing entry of a subtree is deleted.
func extraneous(local map[string]localEntry, remote map[string]netdisk.FileInfo) []Action {
	var out []Action

	for _, rel := range sortedKeys(remote) {
		if _, ok := local[rel]; ok || coveredBy(out, rel) {
			continue
		}

		out = append(out, Action{Type: ActionDelete, Path: rel})
	}

	return out
}

func coveredBy(deletes []Action, rel string) bool {
	for _, d := range deletes {
		if pathutil.HasPrefix(rel, d.Path) {
			return true
		}
	}

	return false
}

func (m *Mirror) scanLocal() (map[string]localEntry, error) {
	out := make(map[string]localEntry)

	err := filepath.WalkDir(m.local, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if p == m.local {
			return nil
		}

		// Symlinks, sockets and devices are not copied.
		if !d.IsDir() && !d.Type().IsRegular() {
			m.logger.Debug("mirror: skipping non-regular file", slog.String("path", p))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(m.local, p)
		if err != nil {
			return err
		}

		out[pathutil.Normalize(filepath.ToSlash(rel))] = localEntry{path: p, isDir: d.IsDir(), info: info}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: scanning %s: %w", m.local, err)
	}

	return out, nil
}

func (m *Mirror) scanRemote(ctx context.Context) (map[string]netdisk.FileInfo, error) {
	out := make(map[string]netdisk.FileInfo)

	err := netdisk.Walk(ctx, m.remote, func(rel string, info netdisk.FileInfo) error {
		out[rel] = info
		return nil
	})
	if err != nil && !netdisk.IsNotFound(err) {
		return nil, fmt.Errorf("mirror: scanning remote %s: %w", m.remote.BasePath(), err)
	}

	return out, nil
}

// Run executes one pass. Failures of single actions are collected in the
// report; authentication failures, exhausted retries and cancellation stop
// the pass and are returned.
func (m *Mirror) Run(ctx context.Context) (*Report, error) {
	actions, unchanged, err := m.Plan(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Unchanged: unchanged}

	var deletes, mkdirs, uploads []Action

	for _, a := range actions {
		switch a.Type {
		case ActionDelete:
			deletes = append(deletes, a)
		case ActionMkdir:
			mkdirs = append(mkdirs, a)
		case ActionUpload:
			uploads = append(uploads, a)
		}
	}

	if err := m.dispatchPool(ctx, deletes, report, m.workers); err != nil {
		return report, err
	}

	// Folders go one at a time so parents exist before their children.
	if err := m.dispatchPool(ctx, mkdirs, report, 1); err != nil {
		return report, err
	}

	if err := m.dispatchPool(ctx, uploads, report, m.workers); err != nil {
		return report, err
	}

	m.logger.Info("mirror: pass complete",
		slog.Int("uploaded", report.Uploaded),
		slog.Int("created", report.Created),
		slog.Int("deleted", report.Deleted),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("failed", report.Failed()),
		slog.Uint64("bytes", report.Bytes),
	)

	return report, nil
}

// dispatchPool runs each action through a bounded errgroup. Fatal errors
// cancel the remaining workers; others are recorded and skipped.
func (m *Mirror) dispatchPool(ctx context.Context, actions []Action, report *Report, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu gosync.Mutex

	for i := range actions {
		action := actions[i]

		g.Go(func() error {
			n, err := m.execute(gctx, action)
			if err != nil {
				if isFatal(err) {
					return fmt.Errorf("mirror: %s %s: %w", action.Type, action.Path, err)
				}

				mu.Lock()
				report.Errors = append(report.Errors, ActionError{Action: action, Err: err})
				mu.Unlock()

				m.logger.Warn("mirror: action skipped",
					slog.String("action", action.Type.String()),
					slog.String("path", action.Path),
					slog.String("error", err.Error()),
				)

				return nil
			}

			mu.Lock()
			switch action.Type {
			case ActionDelete:
				report.Deleted++
			case ActionMkdir:
				report.Created++
			case ActionUpload:
				report.Uploaded++
				report.Bytes += n
			}
			mu.Unlock()

			return nil
		})
	}

	return g.Wait()
}

func (m *Mirror) execute(ctx context.Context, a Action) (uint64, error) {
	switch a.Type {
	case ActionDelete:
		return 0, m.remote.Delete(ctx, a.Path)
	case ActionMkdir:
		return 0, m.remote.CreateDir(ctx, a.Path)
	case ActionUpload:
		data, err := os.ReadFile(a.Local)
		if err != nil {
			return 0, err
		}

		if err := m.remote.Create(a.Path).Write(ctx, data); err != nil {
			return 0, err
		}

		m.logger.Debug("mirror: uploaded", slog.String("path", a.Path), slog.Int("bytes", len(data)))

		return uint64(len(data)), nil
	default:
		return 0, fmt.Errorf("mirror: unknown action %v", a.Type)
	}
}

// isFatal reports whether err should abort the whole pass rather than just
// the action that hit it.
func isFatal(err error) bool {
	var tokenErr *netdisk.TokenError

	return errors.As(err, &tokenErr) ||
		errors.Is(err, netdisk.ErrUnauthorized) ||
		errors.Is(err, netdisk.ErrConsentRequired) ||
		errors.Is(err, ratelimit.ErrMaxRetriesExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
