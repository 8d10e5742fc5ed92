package dropbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/netdisk-go/internal/auth"
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

type fakeEntry struct {
	folder bool
	data   []byte
}

// fakeDropbox is an in-memory Dropbox API v2. Listing pages hold two entries.
type fakeDropbox struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	entries  map[string]*fakeEntry
	sessions map[string][]byte
	apiArgs  []string
	offsets  []int
	listArgs []string
	calls    map[string]int
}

func newFakeDropbox(t *testing.T) *fakeDropbox {
	t.Helper()

	d := &fakeDropbox{
		t:        t,
		entries:  map[string]*fakeEntry{},
		sessions: map[string][]byte{},
		calls:    map[string]int{},
	}
	d.srv = httptest.NewServer(http.HandlerFunc(d.serve))
	t.Cleanup(d.srv.Close)

	return d
}

func (d *fakeDropbox) fs(basePath string, chunk int) *FS {
	return New(Options{
		APIURL:     d.srv.URL + "/api",
		ContentURL: d.srv.URL + "/content",
		BasePath:   basePath,
		Doer:       d.srv.Client(),
		Tokens:     auth.StaticToken{Backend: Name, Token: "tok"},
		ChunkSize:  chunk,
	})
}

func (d *fakeDropbox) put(p string, folder bool, data string) {
	d.entries[pathutil.Normalize(p)] = &fakeEntry{folder: folder, data: []byte(data)}
}

func (d *fakeDropbox) meta(p string) map[string]any {
	e := d.entries[p]
	m := map[string]any{
		".tag":         tagFolder,
		"id":           "id:" + p,
		"name":         pathutil.Base(p),
		"path_display": p,
	}

	if !e.folder {
		m[".tag"] = "file"
		m["size"] = len(e.data)
		m["content_hash"] = contentHash(e.data)
		m["client_modified"] = "2024-04-01T08:00:00Z"
		m["server_modified"] = "2024-04-02T09:30:00Z"
	}

	return m
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func conflict(w http.ResponseWriter, summary string) {
	reply(w, http.StatusConflict, map[string]any{"error_summary": summary})
}

func (d *fakeDropbox) serve(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	require.Equal(d.t, "Bearer tok", r.Header.Get("Authorization"))

	endpoint := r.URL.Path
	d.calls[endpoint]++
	body, _ := io.ReadAll(r.Body)

	var arg map[string]any

	if strings.HasPrefix(endpoint, "/content/") {
		raw := r.Header.Get("Dropbox-API-Arg")
		d.apiArgs = append(d.apiArgs, raw)
		require.NoError(d.t, json.Unmarshal([]byte(raw), &arg))
	} else if len(body) > 0 {
		require.NoError(d.t, json.Unmarshal(body, &arg))
	}

	path, _ := arg["path"].(string)

	switch endpoint {
	case "/api/users/get_current_account":
		reply(w, http.StatusOK, map[string]any{"account_id": "dbid:1"})
	case "/api/files/list_folder":
		d.listArgs = append(d.listArgs, path)
		d.listPage(w, path, 0)
	case "/api/files/list_folder/continue":
		dir, off, _ := strings.Cut(arg["cursor"].(string), "|")
		n, _ := strconv.Atoi(off)
		d.listPage(w, dir, n)
	case "/api/files/create_folder_v2":
		if d.entries[path] != nil {
			conflict(w, "path/conflict/folder/..")
			return
		}

		d.put(path, true, "")
		reply(w, http.StatusOK, map[string]any{"metadata": d.meta(path)})
	case "/api/files/delete_v2":
		if d.entries[path] == nil {
			conflict(w, "path_lookup/not_found/..")
			return
		}

		for k := range d.entries {
			if pathutil.HasPrefix(k, path) {
				delete(d.entries, k)
			}
		}

		reply(w, http.StatusOK, map[string]any{"metadata": map[string]any{}})
	case "/content/files/download":
		path = strings.TrimPrefix(path, "id:")
		if e := d.entries[path]; e != nil && !e.folder {
			_, _ = w.Write(e.data)
			return
		}

		conflict(w, "path/not_found/..")
	case "/content/files/upload":
		d.put(path, false, string(body))
		reply(w, http.StatusOK, d.meta(path))
	case "/content/files/upload_session/start":
		id := fmt.Sprintf("s%d", len(d.sessions)+1)
		d.sessions[id] = body
		reply(w, http.StatusOK, map[string]any{"session_id": id})
	case "/content/files/upload_session/append_v2", "/content/files/upload_session/finish":
		cursor := arg["cursor"].(map[string]any)
		id := cursor["session_id"].(string)
		offset := int(cursor["offset"].(float64))
		d.offsets = append(d.offsets, offset)
		require.Len(d.t, d.sessions[id], offset)
		d.sessions[id] = append(d.sessions[id], body...)

		if strings.HasSuffix(endpoint, "finish") {
			target := arg["commit"].(map[string]any)["path"].(string)
			d.put(target, false, string(d.sessions[id]))
			reply(w, http.StatusOK, d.meta(target))

			return
		}

		reply(w, http.StatusOK, nil)
	default:
		http.NotFound(w, r)
	}
}

func (d *fakeDropbox) listPage(w http.ResponseWriter, dir string, offset int) {
	dir = pathutil.Normalize(dir)

	var names []string

	for p := range d.entries {
		if p != "/" && pathutil.Parent(p) == dir {
			names = append(names, p)
		}
	}

	sort.Strings(names)

	end := min(offset+2, len(names))
	entries := []any{}

	for _, p := range names[offset:end] {
		entries = append(entries, d.meta(p))
	}

	if offset == 0 {
		entries = append(entries, map[string]any{".tag": tagDeleted, "name": "gone.txt"})
	}

	reply(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"cursor":   fmt.Sprintf("%s|%d", dir, end),
		"has_more": end < len(names),
	})
}

func TestVerify(t *testing.T) {
	d := newFakeDropbox(t)
	require.NoError(t, d.fs("", 0).Verify(context.Background()))
}

func TestList_ContinuesWithCursor(t *testing.T) {
	d := newFakeDropbox(t)
	d.put("/a.txt", false, "aaa")
	d.put("/b.txt", false, "b")
	d.put("/c", true, "")
	d.put("/c/inner.txt", false, "inner")
	d.put("/d.txt", false, "")

	files, err := d.fs("/", 0).List(context.Background())
	require.NoError(t, err)

	require.Len(t, files, 3)
	assert.Equal(t, []string{""}, d.listArgs, "root is addressed as the empty path")
	assert.Equal(t, 1, d.calls["/api/files/list_folder/continue"])

	assert.Equal(t, "/a.txt", files[0].Path)
	assert.Equal(t, uint64(3), files[0].Size)
	assert.Equal(t, contentHash([]byte("aaa")), files[0].Digest)
	assert.Equal(t, int64(1712050200000), files[0].ModifiedMillis())
	assert.Equal(t, "/d.txt", files[2].Path, "folder c is not listed")

	entries, err := d.fs("/", 0).Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "/c", entries[2].Path)
	assert.True(t, entries[2].IsDir)
}

func TestWriteRead_UnicodePath(t *testing.T) {
	d := newFakeDropbox(t)
	d.put("/docs", true, "")

	fs := d.fs("/docs", 0)
	ctx := context.Background()

	require.NoError(t, netdisk.WriteString(ctx, fs.Create("résumé.txt"), "cv"))

	for _, raw := range d.apiArgs {
		for _, r := range raw {
			require.Less(t, r, rune(0x80), "header must be ASCII: %q", raw)
		}
	}

	assert.Contains(t, d.apiArgs[0], `r\u00e9sum\u00e9.txt`)

	text, err := netdisk.ReadText(ctx, fs.Open(netdisk.FileInfo{Name: "résumé.txt"}))
	require.NoError(t, err)
	assert.Equal(t, "cv", text)
}

func TestWrite_UploadSession(t *testing.T) {
	d := newFakeDropbox(t)
	fs := d.fs("", 4)

	require.NoError(t, fs.Create("big.bin").Write(context.Background(), []byte("0123456789")))

	assert.Equal(t, 1, d.calls["/content/files/upload_session/start"])
	assert.Equal(t, []int{4, 8}, d.offsets)
	assert.Equal(t, "0123456789", string(d.entries["/big.bin"].data))
	assert.Zero(t, d.calls["/content/files/upload"])
}

func TestWrite_ExactChunkUsesSingleRequest(t *testing.T) {
	d := newFakeDropbox(t)

	require.NoError(t, d.fs("", 4).Create("x").Write(context.Background(), []byte("abcd")))
	assert.Equal(t, 1, d.calls["/content/files/upload"])
}

func TestRead_Missing(t *testing.T) {
	d := newFakeDropbox(t)

	_, err := netdisk.ReadText(context.Background(), d.fs("", 0).Open(netdisk.FileInfo{Name: "nope"}))
	assert.ErrorIs(t, err, netdisk.ErrNotFound)
}

func TestRead_ByID(t *testing.T) {
	d := newFakeDropbox(t)
	d.put("/x", false, "by id")

	text, err := netdisk.ReadText(context.Background(), d.fs("", 0).Open(netdisk.FileInfo{ID: "id:/x", Name: "other"}))
	require.NoError(t, err)
	assert.Equal(t, "by id", text)
}

func TestCreateDir_ExistingIsSuccess(t *testing.T) {
	d := newFakeDropbox(t)
	fs := d.fs("", 0)

	require.NoError(t, fs.CreateDir(context.Background(), "a"))
	require.NoError(t, fs.CreateDir(context.Background(), "a"))
	assert.True(t, d.entries["/a"].folder)
}

func TestDelete(t *testing.T) {
	d := newFakeDropbox(t)
	d.put("/a", true, "")
	d.put("/a/b", false, "b")

	fs := d.fs("", 0)
	require.NoError(t, fs.Delete(context.Background(), "a"))
	require.NoError(t, fs.Delete(context.Background(), "a"))
	assert.Empty(t, d.entries)
	assert.ErrorIs(t, fs.Delete(context.Background(), "/"), netdisk.ErrNotSupported)
}

func TestDirURL(t *testing.T) {
	d := newFakeDropbox(t)

	u, err := d.fs("/Photos/2024 trip", 0).DirURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://www.dropbox.com/home/Photos/2024%20trip", u)

	u, err = d.fs("", 0).DirURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HomeURL, u)
}

func TestAPIArg_EscapesNonASCII(t *testing.T) {
	got, err := apiArg(pathArg{Path: "/é/😀"})
	require.NoError(t, err)
	assert.Equal(t, `{"path":"/\u00e9/\ud83d\ude00"}`, got)

	var back pathArg
	require.NoError(t, json.Unmarshal([]byte(got), &back))
	assert.Equal(t, "/é/😀", back.Path)
}

func TestContentHash(t *testing.T) {
	empty := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(empty[:]), contentHash(nil))

	data := make([]byte, hashBlockSize+1)
	b1 := sha256.Sum256(data[:hashBlockSize])
	b2 := sha256.Sum256(data[hashBlockSize:])
	want := sha256.Sum256(append(b1[:], b2[:]...))
	assert.Equal(t, hex.EncodeToString(want[:]), contentHash(data))
}

func TestRemapError(t *testing.T) {
	pe := netdisk.NewProviderError(Name, http.StatusConflict, "path/not_found/", "", nil)
	assert.ErrorIs(t, remapError(pe), netdisk.ErrNotFound)

	pe = netdisk.NewProviderError(Name, http.StatusConflict, "path/conflict/folder/", "", nil)
	assert.ErrorIs(t, remapError(pe), netdisk.ErrConflict)
	assert.True(t, hasErrorTag(pe, "path/conflict"))
}
