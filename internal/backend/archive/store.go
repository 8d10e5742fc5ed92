package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

// snapshotVersion tags the serialized form.
const snapshotVersion = 1

// filePerms restricts saved archives to the owner.
const filePerms = 0o600

type node struct {
	id       string
	dir      bool
	data     []byte
	digest   string
	created  time.Time
	modified time.Time
	children map[string]*node
}

// Store is an in-memory file tree shared by every FS opened on it.
type Store struct {
	mu   sync.RWMutex
	root *node
	now  func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the time source for created/modified stamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	s.root = s.newNode(true)

	return s
}

func (s *Store) newNode(dir bool) *node {
	now := netdisk.Millis(s.now())
	n := &node{id: uuid.NewString(), dir: dir, created: now, modified: now}

	if dir {
		n.children = make(map[string]*node)
	}

	return n
}

// lookup walks p. Callers hold the lock.
func (s *Store) lookup(p string) *node {
	n := s.root

	for _, seg := range pathutil.Segments(p) {
		if !n.dir {
			return nil
		}

		n = n.children[seg]
		if n == nil {
			return nil
		}
	}

	return n
}

func (s *Store) read(p string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.lookup(p)
	if n == nil || n.dir {
		return nil, fmt.Errorf("archive: %s: %w", p, netdisk.ErrNotFound)
	}

	return append([]byte(nil), n.data...), nil
}

func (s *Store) write(p string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.lookup(pathutil.Parent(p))
	if parent == nil || !parent.dir {
		return fmt.Errorf("archive: parent of %s: %w", p, netdisk.ErrNotFound)
	}

	name := pathutil.Base(p)

	n := parent.children[name]
	switch {
	case n == nil:
		n = s.newNode(false)
		parent.children[name] = n
	case n.dir:
		return fmt.Errorf("archive: %s is a directory: %w", p, netdisk.ErrConflict)
	default:
		n.modified = netdisk.Millis(s.now())
	}

	n.data = append([]byte(nil), data...)
	sum := sha256.Sum256(data)
	n.digest = hex.EncodeToString(sum[:])

	return nil
}

func (s *Store) mkdir(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pathutil.IsRoot(p) {
		return nil
	}

	parent := s.lookup(pathutil.Parent(p))
	if parent == nil || !parent.dir {
		return fmt.Errorf("archive: parent of %s: %w", p, netdisk.ErrNotFound)
	}

	name := pathutil.Base(p)
	if n := parent.children[name]; n != nil {
		if n.dir {
			return nil
		}

		return fmt.Errorf("archive: %s is a file: %w", p, netdisk.ErrConflict)
	}

	parent.children[name] = s.newNode(true)

	return nil
}

// remove deletes p and everything under it; it reports whether p existed.
func (s *Store) remove(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.lookup(pathutil.Parent(p))
	if parent == nil || !parent.dir {
		return false
	}

	name := pathutil.Base(p)
	if _, ok := parent.children[name]; !ok {
		return false
	}

	delete(parent.children, name)

	return true
}

func (s *Store) list(p string) ([]netdisk.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.lookup(p)
	if n == nil || !n.dir {
		return nil, fmt.Errorf("archive: %s: %w", p, netdisk.ErrNotFound)
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}

	sort.Strings(names)

	out := make([]netdisk.FileInfo, len(names))
	for i, name := range names {
		out[i] = n.children[name].info(name, pathutil.Join(p, name))
	}

	return out, nil
}

func (n *node) info(name, p string) netdisk.FileInfo {
	return netdisk.FileInfo{
		ID:         n.id,
		Name:       name,
		Path:       p,
		Size:       uint64(len(n.data)),
		Digest:     n.digest,
		IsDir:      n.dir,
		CreatedAt:  n.created,
		ModifiedAt: n.modified,
	}
}

// Entry is one node in a Snapshot.
type Entry struct {
	Path       string `json:"path"`
	ID         string `json:"id"`
	Dir        bool   `json:"dir,omitempty"`
	Data       []byte `json:"data,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
	ModifiedAt int64  `json:"modifiedAt"`
}

// Snapshot is the serializable form of a Store. Parents precede children.
type Snapshot struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Snapshot captures the whole tree, excluding the root.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Version: snapshotVersion}

	var walk func(p string, n *node)
	walk = func(p string, n *node) {
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			child := n.children[name]
			cp := pathutil.Join(p, name)

			snap.Entries = append(snap.Entries, Entry{
				Path:       cp,
				ID:         child.id,
				Dir:        child.dir,
				Data:       append([]byte(nil), child.data...),
				CreatedAt:  child.created.UnixMilli(),
				ModifiedAt: child.modified.UnixMilli(),
			})

			if child.dir {
				walk(cp, child)
			}
		}
	}

	walk(pathutil.Root, s.root)

	return snap
}

// Load replaces the tree with snap. On error the Store is unchanged.
func (s *Store) Load(snap Snapshot) error {
	if snap.Version != snapshotVersion {
		return fmt.Errorf("archive: unsupported snapshot version %d", snap.Version)
	}

	tmp := &Store{now: s.now}
	tmp.root = tmp.newNode(true)

	for _, e := range snap.Entries {
		p := pathutil.Normalize(e.Path)

		parent := tmp.lookup(pathutil.Parent(p))
		if parent == nil || !parent.dir || pathutil.IsRoot(p) {
			return fmt.Errorf("archive: snapshot entry %s has no parent directory", p)
		}

		n := &node{
			id:       e.ID,
			dir:      e.Dir,
			created:  time.UnixMilli(e.CreatedAt).UTC(),
			modified: time.UnixMilli(e.ModifiedAt).UTC(),
		}

		if n.id == "" {
			n.id = uuid.NewString()
		}

		if e.Dir {
			n.children = make(map[string]*node)
		} else {
			n.data = append([]byte(nil), e.Data...)
			sum := sha256.Sum256(n.data)
			n.digest = hex.EncodeToString(sum[:])
		}

		parent.children[pathutil.Base(p)] = n
	}

	s.mu.Lock()
	s.root = tmp.root
	s.mu.Unlock()

	return nil
}

// WriteTo encodes a snapshot as JSON.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return 0, fmt.Errorf("archive: encoding snapshot: %w", err)
	}

	n, err := w.Write(data)

	return int64(n), err
}

// ReadFrom decodes a JSON snapshot and loads it.
func (s *Store) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return int64(len(data)), fmt.Errorf("archive: reading snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return int64(len(data)), fmt.Errorf("archive: decoding snapshot: %w", err)
	}

	return int64(len(data)), s.Load(snap)
}

// OpenFile returns a Store loaded from path, or an empty one when the file
// does not exist yet.
func OpenFile(path string, opts ...StoreOption) (*Store, error) {
	s := NewStore(opts...)

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}

	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", path, err)
	}
	defer f.Close()

	if _, err := s.ReadFrom(f); err != nil {
		return nil, err
	}

	return s, nil
}

// SaveFile writes the store to path atomically: temp file in the same
// directory, fsync, rename.
func (s *Store) SaveFile(path string) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".archive-*.tmp")
	if err != nil {
		return fmt.Errorf("archive: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: setting permissions: %w", err)
	}

	if _, err := s.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("archive: renaming: %w", err)
	}

	success = true

	return nil
}
