package idcache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutGet(t *testing.T) {
	c := New()
	c.Put("/a/b/", "id-ab")

	id, ok := c.Get("a/b")
	assert.True(t, ok)
	assert.Equal(t, "id-ab", id)

	_, ok = c.Get("/a")
	assert.False(t, ok)
}

func TestCache_PutEmptyIDIgnored(t *testing.T) {
	c := New()
	c.Put("/a", "")
	assert.Equal(t, 0, c.Len())
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c := New()
	c.Put("/a", "1")
	c.Put("/a/b", "2")
	c.Put("/a/b/c", "3")
	c.Put("/ab", "4")
	c.Put("/z", "5")

	removed := c.InvalidatePrefix("/a")
	assert.Equal(t, 3, removed)

	_, ok := c.Get("/ab")
	assert.True(t, ok, "sibling with shared string prefix must survive")

	_, ok = c.Get("/a/b/c")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_InvalidateRoot(t *testing.T) {
	c := New()
	c.Put("/a", "1")
	c.Put("/b", "2")

	assert.Equal(t, 2, c.InvalidatePrefix("/"))
	assert.Equal(t, 0, c.Len())
}

var errGone = errors.New("gone")

func isGone(err error) bool { return errors.Is(err, errGone) }

// fakeRemote resolves paths from a map and fills the cache like an adapter.
type fakeRemote struct {
	c        *Cache
	ids      map[string]string
	resolves int
}

func (r *fakeRemote) resolve(_ context.Context, p string) (string, error) {
	if id, ok := r.c.Get(p); ok {
		return id, nil
	}

	r.resolves++

	id, ok := r.ids[p]
	if !ok {
		return "", errGone
	}

	r.c.Put(p, id)

	return id, nil
}

func TestCache_With_StaleIDReresolved(t *testing.T) {
	c := New()
	r := &fakeRemote{c: c, ids: map[string]string{"/docs": "new"}}
	c.Put("/docs", "old")
	c.Put("/docs/x", "old-x")

	var seen []string

	err := c.With(context.Background(), "/docs", r.resolve, isGone, func(id string) error {
		seen = append(seen, id)
		if id == "old" {
			return errGone
		}

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"old", "new"}, seen)
	assert.Equal(t, 1, r.resolves)

	_, ok := c.Get("/docs/x")
	assert.False(t, ok, "entries under a stale folder are dropped")
}

func TestCache_With_FreshIDNotRetried(t *testing.T) {
	c := New()
	r := &fakeRemote{c: c, ids: map[string]string{"/docs": "id"}}

	calls := 0
	err := c.With(context.Background(), "/docs", r.resolve, isGone, func(string) error {
		calls++
		return errGone
	})

	assert.ErrorIs(t, err, errGone)
	assert.Equal(t, 1, calls)
}

func TestCache_With_OtherErrorsKeepCache(t *testing.T) {
	c := New()
	r := &fakeRemote{c: c}
	c.Put("/docs", "id")

	boom := errors.New("boom")
	err := c.With(context.Background(), "/docs", r.resolve, isGone, func(string) error { return boom })

	assert.ErrorIs(t, err, boom)

	_, ok := c.Get("/docs")
	assert.True(t, ok)
}

func TestCache_With_RootNeverStale(t *testing.T) {
	c := New()
	r := &fakeRemote{c: c}
	c.Put("/", "root")

	calls := 0
	err := c.With(context.Background(), "/", r.resolve, isGone, func(string) error {
		calls++
		return errGone
	})

	assert.ErrorIs(t, err, errGone)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.Len())
}

func TestCache_With_RemovedItemReportsResolveError(t *testing.T) {
	c := New()
	r := &fakeRemote{c: c, ids: map[string]string{}}
	c.Put("/docs", "old")

	err := c.With(context.Background(), "/docs", r.resolve, isGone, func(string) error { return errGone })

	assert.ErrorIs(t, err, errGone)
	assert.Zero(t, c.Len())
}
