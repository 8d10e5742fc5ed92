package netdisk

import (
	"context"
	"errors"
	"fmt"

	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

// SkipDir may be returned by a WalkFunc to skip a directory's contents.
var SkipDir = errors.New("netdisk: skip directory") //nolint:revive,staticcheck // mirrors fs.SkipDir

// WalkFunc is called for every entry Walk visits. rel is the entry's path
// relative to the walked instance's base path.
type WalkFunc func(rel string, info FileInfo) error

// Walk lists fsys and every directory beneath it depth-first, calling fn for
// each entry. Directories are reported before their contents.
func Walk(ctx context.Context, fsys FileSystem, fn WalkFunc) error {
	return walk(ctx, fsys, pathutil.Root, fn)
}

func walk(ctx context.Context, fsys FileSystem, rel string, fn WalkFunc) error {
	entries, err := fsys.Entries(ctx)
	if err != nil {
		return fmt.Errorf("listing %s: %w", fsys.BasePath(), err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		childRel := pathutil.Join(rel, e.Name)

		err := fn(childRel, e)
		if errors.Is(err, SkipDir) {
			continue
		}

		if err != nil {
			return err
		}

		if e.IsDir {
			if err := walk(ctx, fsys.OpenDir(e.Name), childRel, fn); err != nil {
				return err
			}
		}
	}

	return nil
}

// MkdirAll creates path and any missing ancestors beneath fsys's base path.
func MkdirAll(ctx context.Context, fsys FileSystem, path string) error {
	segs := pathutil.Segments(path)

	for i := range segs {
		dir := pathutil.Join(segs[:i+1]...)
		if err := fsys.CreateDir(ctx, dir); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	return nil
}

// Stat returns the entry at path by listing its parent. The root has no
// entry of its own and yields ErrNotFound.
func Stat(ctx context.Context, fsys FileSystem, path string) (FileInfo, error) {
	name := pathutil.Base(path)
	if name == "" {
		return FileInfo{}, fmt.Errorf("stat %s: %w", fsys.BasePath(), ErrNotFound)
	}

	entries, err := fsys.OpenDir(pathutil.Parent(path)).Entries(ctx)
	if err != nil {
		return FileInfo{}, err
	}

	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}

	return FileInfo{}, fmt.Errorf("stat %s: %w", pathutil.Join(fsys.BasePath(), path), ErrNotFound)
}

// Files keeps only the file entries of a listing. Adapters implement List
// as Files(f.Entries(ctx)).
func Files(entries []FileInfo, err error) ([]FileInfo, error) {
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir {
			files = append(files, e)
		}
	}

	return files, nil
}
