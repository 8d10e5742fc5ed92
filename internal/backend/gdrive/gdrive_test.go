package gdrive

import (
	"context"
	"crypto/md5" //nolint:gosec // matches the service checksum
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/netdisk-go/internal/auth"
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
)

type fakeFile struct {
	id, name, parent, mime string
	data                   []byte
}

// fakeDrive is an in-memory Drive v3 endpoint. Listing pages hold two files.
type fakeDrive struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	files    map[string]*fakeFile
	nextID   int
	lookups  int
	listings int
	patches  int
	creates  int
	badMD5   bool

	// gate, when set, holds name lookups until closed; entered is signalled
	// as each one arrives.
	gate    chan struct{}
	entered chan struct{}
}

var queryRE = regexp.MustCompile(`^'((?:[^'\\]|\\.)*)' in parents(?: and name = '((?:[^'\\]|\\.)*)')? and trashed = false$`)

func unescapeQuery(s string) string {
	return strings.NewReplacer(`\'`, `'`, `\\`, `\`).Replace(s)
}

func newFakeDrive(t *testing.T) *fakeDrive {
	t.Helper()

	d := &fakeDrive{t: t, files: map[string]*fakeFile{}}
	d.srv = httptest.NewServer(http.HandlerFunc(d.serve))
	t.Cleanup(d.srv.Close)

	return d
}

func (d *fakeDrive) fs(basePath string) *FS {
	return New(Options{
		BaseURL:   d.srv.URL,
		UploadURL: d.srv.URL + "/upload",
		BasePath:  basePath,
		Doer:      d.srv.Client(),
		Tokens:    auth.StaticToken{Backend: Name, Token: "tok"},
	})
}

func (d *fakeDrive) add(parent, name, mimeType, data string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.addLocked(parent, name, mimeType, []byte(data)).id
}

func (d *fakeDrive) addLocked(parent, name, mimeType string, data []byte) *fakeFile {
	d.nextID++
	f := &fakeFile{id: "f" + strconv.Itoa(d.nextID), name: name, parent: parent, mime: mimeType, data: data}
	d.files[f.id] = f

	return f
}

func (d *fakeDrive) resource(f *fakeFile) map[string]any {
	sum := md5.Sum(f.data) //nolint:gosec // test fixture
	m := map[string]any{
		"id":           f.id,
		"name":         f.name,
		"mimeType":     f.mime,
		"createdTime":  "2024-03-01T10:00:00.250Z",
		"modifiedTime": "2024-03-02T10:00:00Z",
	}

	if f.mime != folderMimeType {
		m["size"] = strconv.Itoa(len(f.data))
		m["md5Checksum"] = hex.EncodeToString(sum[:])

		if d.badMD5 {
			m["md5Checksum"] = "0000"
		}
	}

	return m
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (d *fakeDrive) serve(w http.ResponseWriter, r *http.Request) {
	if d.gate != nil && r.URL.Path == "/files" && strings.Contains(r.URL.Query().Get("q"), " and name = ") {
		d.entered <- struct{}{}
		<-d.gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer tok" {
		reply(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"message": "Invalid Credentials"}})
		return
	}

	p := r.URL.Path
	q := r.URL.Query()

	switch {
	case p == "/about":
		reply(w, http.StatusOK, map[string]any{"user": map[string]any{"emailAddress": "user@example.com"}})
	case p == "/files" && r.Method == http.MethodGet:
		d.list(w, q)
	case p == "/files" && r.Method == http.MethodPost:
		var meta fileMetadata
		require.NoError(d.t, json.NewDecoder(r.Body).Decode(&meta))

		if !d.folderExists(meta.Parents[0]) {
			notFound(w)
			return
		}

		reply(w, http.StatusOK, d.resource(d.addLocked(meta.Parents[0], meta.Name, meta.MimeType, nil)))
	case p == "/upload/files" && r.Method == http.MethodPost:
		d.creates++
		d.multipartCreate(w, r)
	case strings.HasPrefix(p, "/upload/files/") && r.Method == http.MethodPatch:
		d.patches++
		f := d.files[strings.TrimPrefix(p, "/upload/files/")]
		f.data, _ = io.ReadAll(r.Body)
		reply(w, http.StatusOK, d.resource(f))
	case strings.HasPrefix(p, "/files/"):
		f := d.files[strings.TrimPrefix(p, "/files/")]
		if f == nil {
			notFound(w)
			return
		}

		if r.Method == http.MethodDelete {
			delete(d.files, f.id)
			w.WriteHeader(http.StatusNoContent)

			return
		}

		require.Equal(d.t, "media", q.Get("alt"))
		_, _ = w.Write(f.data)
	default:
		http.NotFound(w, r)
	}
}

func notFound(w http.ResponseWriter) {
	reply(w, http.StatusNotFound, map[string]any{"error": map[string]any{
		"message": "File not found", "errors": []any{map[string]any{"reason": "notFound"}},
	}})
}

func (d *fakeDrive) folderExists(id string) bool {
	if id == rootID {
		return true
	}

	f := d.files[id]

	return f != nil && f.mime == folderMimeType
}

// remove deletes id and everything beneath it, as another client would.
func (d *fakeDrive) remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removeLocked(id)
}

func (d *fakeDrive) removeLocked(id string) {
	for _, f := range d.files {
		if f.parent == id {
			d.removeLocked(f.id)
		}
	}

	delete(d.files, id)
}

func (d *fakeDrive) list(w http.ResponseWriter, q map[string][]string) {
	m := queryRE.FindStringSubmatch(q["q"][0])
	require.NotNil(d.t, m, "unexpected query %q", q["q"][0])

	parent := unescapeQuery(m[1])
	name := unescapeQuery(m[2])

	if !d.folderExists(parent) {
		notFound(w)
		return
	}

	var out []*fakeFile

	for _, f := range d.files {
		if f.parent == parent && (m[2] == "" || f.name == name) {
			out = append(out, f)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })

	if m[2] != "" {
		d.lookups++

		files := []any{}
		for _, f := range out {
			files = append(files, d.resource(f))
		}

		reply(w, http.StatusOK, map[string]any{"files": files})

		return
	}

	d.listings++

	start := 0
	if tok := q["pageToken"]; len(tok) > 0 {
		start, _ = strconv.Atoi(tok[0])
	}

	end := min(start+2, len(out))
	files := []any{}

	for _, f := range out[start:end] {
		files = append(files, d.resource(f))
	}

	resp := map[string]any{"files": files}
	if end < len(out) {
		resp["nextPageToken"] = strconv.Itoa(end)
	}

	reply(w, http.StatusOK, resp)
}

func (d *fakeDrive) multipartCreate(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	require.NoError(d.t, err)
	require.Equal(d.t, "multipart/related", mediaType)

	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	require.NoError(d.t, err)

	var meta fileMetadata
	require.NoError(d.t, json.NewDecoder(metaPart).Decode(&meta))

	mediaPart, err := mr.NextPart()
	require.NoError(d.t, err)

	data, err := io.ReadAll(mediaPart)
	require.NoError(d.t, err)

	if !d.folderExists(meta.Parents[0]) {
		notFound(w)
		return
	}

	reply(w, http.StatusOK, d.resource(d.addLocked(meta.Parents[0], meta.Name, "text/plain", data)))
}

func TestVerify(t *testing.T) {
	d := newFakeDrive(t)
	require.NoError(t, d.fs("").Verify(context.Background()))
}

func TestList_ResolvesPathAndPages(t *testing.T) {
	d := newFakeDrive(t)
	docs := d.add(rootID, "docs", folderMimeType, "")
	work := d.add(docs, "it's work", folderMimeType, "")

	for i := range 5 {
		d.add(work, fmt.Sprintf("file%d.txt", i), "text/plain", strings.Repeat("x", i))
	}

	files, err := d.fs("/docs/it's work").List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 5)

	assert.Equal(t, 3, d.listings)
	assert.Equal(t, 2, d.lookups, "one lookup per path segment")
	assert.Equal(t, "/docs/it's work/file3.txt", files[3].Path)
	assert.Equal(t, uint64(3), files[3].Size)
	assert.Equal(t, int64(1709287200250), files[3].CreatedMillis())

	sum := md5.Sum([]byte("xxx")) //nolint:gosec // test fixture
	assert.Equal(t, hex.EncodeToString(sum[:]), files[3].Digest)
}

func TestList_ExcludesSubfolders(t *testing.T) {
	d := newFakeDrive(t)
	d.add(rootID, "a", folderMimeType, "")
	d.add(rootID, "b.txt", "text/plain", "b")

	files, err := d.fs("").List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b.txt", files[0].Name)

	entries, err := d.fs("").Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsDir)
	assert.False(t, entries[1].IsDir)
	assert.Zero(t, entries[0].Size)
}

func TestList_MissingFolder(t *testing.T) {
	d := newFakeDrive(t)

	_, err := d.fs("/nope").List(context.Background())
	assert.ErrorIs(t, err, netdisk.ErrNotFound)
}

func TestResolveID_Cached(t *testing.T) {
	d := newFakeDrive(t)
	d.add(rootID, "docs", folderMimeType, "")

	fs := d.fs("/docs")
	_, err := fs.List(context.Background())
	require.NoError(t, err)
	_, err = fs.OpenDir("").List(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, d.lookups)
}

func TestList_RecreatedFolderReresolved(t *testing.T) {
	d := newFakeDrive(t)
	old := d.add(rootID, "docs", folderMimeType, "")
	d.add(old, "a.txt", "text/plain", "a")

	fs := d.fs("/docs")
	files, err := fs.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)

	d.remove(old)
	fresh := d.add(rootID, "docs", folderMimeType, "")
	d.add(fresh, "b.txt", "text/plain", "b")

	files, err = fs.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b.txt", files[0].Name)

	id, ok := fs.ids.Get("/docs")
	require.True(t, ok)
	assert.Equal(t, fresh, id)

	_, ok = fs.ids.Get("/docs/a.txt")
	assert.False(t, ok, "entries under the old folder are dropped")
}

func TestWrite_RecreatedParentReresolved(t *testing.T) {
	d := newFakeDrive(t)
	old := d.add(rootID, "notes", folderMimeType, "")

	fs := d.fs("/notes")
	_, err := fs.List(context.Background())
	require.NoError(t, err)

	d.remove(old)
	fresh := d.add(rootID, "notes", folderMimeType, "")

	require.NoError(t, netdisk.WriteString(context.Background(), fs.Create("a.txt"), "x"))

	id, ok := fs.ids.Get("/notes/a.txt")
	require.True(t, ok)
	assert.Equal(t, fresh, d.files[id].parent)
}

func TestRead_RemovedFileNotRetriedForever(t *testing.T) {
	d := newFakeDrive(t)
	id := d.add(rootID, "a.txt", "text/plain", "a")

	fs := d.fs("")
	_, err := fs.List(context.Background())
	require.NoError(t, err)

	d.remove(id)

	_, err = netdisk.ReadText(context.Background(), fs.Open(netdisk.FileInfo{Name: "a.txt"}))
	assert.ErrorIs(t, err, netdisk.ErrNotFound)
	assert.Equal(t, 1, d.lookups)
}

func TestResolveID_CancelledCallerLeavesLookupRunning(t *testing.T) {
	d := newFakeDrive(t)
	docs := d.add(rootID, "docs", folderMimeType, "")
	d.gate = make(chan struct{})
	d.entered = make(chan struct{}, 1)

	fs := d.fs("/docs")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		_, err := fs.DirURL(ctx)
		done <- err
	}()

	<-d.entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(d.gate)

	assert.Eventually(t, func() bool {
		_, ok := fs.ids.Get("/docs")
		return ok
	}, 5*time.Second, 10*time.Millisecond, "the shared lookup outlives the caller that started it")

	u, err := fs.DirURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FolderURL+docs, u)

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, 1, d.lookups)
}

func TestWrite_CreateThenOverwrite(t *testing.T) {
	d := newFakeDrive(t)
	d.add(rootID, "notes", folderMimeType, "")

	fs := d.fs("/notes")
	ctx := context.Background()

	require.NoError(t, netdisk.WriteString(ctx, fs.Create("a.txt"), "first"))
	require.NoError(t, netdisk.WriteString(ctx, fs.Create("a.txt"), "second"))

	assert.Equal(t, 1, d.creates)
	assert.Equal(t, 1, d.patches)

	text, err := netdisk.ReadText(ctx, fs.Open(netdisk.FileInfo{Name: "a.txt"}))
	require.NoError(t, err)
	assert.Equal(t, "second", text)
}

func TestWrite_MissingParent(t *testing.T) {
	d := newFakeDrive(t)

	err := d.fs("").Create("missing/a.txt").Write(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, netdisk.ErrNotFound)
	assert.Zero(t, d.creates)
}

func TestWrite_ChecksumMismatch(t *testing.T) {
	d := newFakeDrive(t)
	d.badMD5 = true

	err := d.fs("").Create("a.txt").Write(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestRead_ByID(t *testing.T) {
	d := newFakeDrive(t)
	id := d.add(rootID, "bin", "application/octet-stream", "\x00\xff")

	data, err := netdisk.ReadBytes(context.Background(), d.fs("").Open(netdisk.FileInfo{ID: id}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, data)
	assert.Zero(t, d.lookups)
}

func TestCreateDir_ConcurrentCallersMakeOneFolder(t *testing.T) {
	d := newFakeDrive(t)
	fs := d.fs("")

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			assert.NoError(t, fs.CreateDir(context.Background(), "photos"))
		}()
	}

	wg.Wait()

	require.NoError(t, fs.CreateDir(context.Background(), "photos"))

	count := 0
	for _, f := range d.files {
		if f.name == "photos" {
			count++
		}
	}

	assert.Equal(t, 1, count)
}

func TestCreateDir_Nested(t *testing.T) {
	d := newFakeDrive(t)
	fs := d.fs("")

	require.NoError(t, netdisk.MkdirAll(context.Background(), fs, "a/b/c"))

	c, ok := fs.ids.Get("/a/b/c")
	require.True(t, ok)
	assert.Equal(t, folderMimeType, d.files[c].mime)
}

func TestDelete(t *testing.T) {
	d := newFakeDrive(t)
	docs := d.add(rootID, "docs", folderMimeType, "")
	d.add(docs, "x.txt", "text/plain", "x")

	fs := d.fs("")
	_, err := fs.OpenDir("docs").List(context.Background())
	require.NoError(t, err)

	require.NoError(t, fs.Delete(context.Background(), "docs"))
	require.NoError(t, fs.Delete(context.Background(), "docs"), "second delete is a no-op")

	_, ok := fs.ids.Get("/docs/x.txt")
	assert.False(t, ok)
	assert.Nil(t, d.files[docs])
}

func TestDelete_RootRefused(t *testing.T) {
	d := newFakeDrive(t)
	assert.ErrorIs(t, d.fs("/").Delete(context.Background(), ""), netdisk.ErrNotSupported)
}

func TestDirURL(t *testing.T) {
	d := newFakeDrive(t)
	id := d.add(rootID, "docs", folderMimeType, "")

	u, err := d.fs("/docs").DirURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FolderURL+id, u)

	u, err = d.fs("").DirURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://drive.google.com/drive/my-drive", u)
}

func TestDecodeError(t *testing.T) {
	code, msg := decodeError(403, []byte(`{"error":{"code":403,"message":"Rate Limit Exceeded","errors":[{"reason":"rateLimitExceeded"}]}}`))
	assert.Equal(t, "rateLimitExceeded", code)
	assert.Equal(t, "Rate Limit Exceeded", msg)
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s a \\ test`, escapeQuery(`it's a \ test`))
}
