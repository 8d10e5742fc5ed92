package dropbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/netdisk-go/internal/api"
)

const (
	// DefaultChunkSize is the single-request upload limit and the session
	// chunk size when Options.ChunkSize is zero.
	DefaultChunkSize = 8 * 1024 * 1024

	// hashBlockSize is the block size of the Dropbox content hash.
	hashBlockSize = 4 * 1024 * 1024

	writeModeOverwrite = "overwrite"
)

// ErrHashMismatch means the stored content's hash differs from what was sent.
var ErrHashMismatch = errors.New("dropbox: uploaded content hash mismatch")

type writer struct {
	fs   *FS
	path string
}

// Write replaces the file, in one request or through an upload session.
func (w *writer) Write(ctx context.Context, content []byte) error {
	commit := commitInfo{Path: w.path, Mode: writeModeOverwrite, Mute: true}

	var (
		resp *api.Response
		err  error
	)

	if len(content) <= w.fs.chunkSize {
		resp, err = w.fs.content(ctx, "/files/upload", commit, content)
	} else {
		resp, err = w.session(ctx, commit, content)
	}

	if err != nil {
		return fmt.Errorf("dropbox: writing %s: %w", w.path, err)
	}

	var meta metadata
	if err := resp.DecodeJSON(&meta); err != nil {
		return fmt.Errorf("dropbox: writing %s: %w", w.path, err)
	}

	if meta.ContentHash != "" {
		if got := contentHash(content); got != meta.ContentHash {
			return fmt.Errorf("dropbox: writing %s: %w (local %s, remote %s)", w.path, ErrHashMismatch, got, meta.ContentHash)
		}
	}

	w.fs.logger.Info("uploaded", slog.String("path", w.path), slog.Int("bytes", len(content)))

	return nil
}

// session uploads content in chunks: start with the first, append the
// middle ones, finish with the last.
func (w *writer) session(ctx context.Context, commit commitInfo, content []byte) (*api.Response, error) {
	size := w.fs.chunkSize

	resp, err := w.fs.content(ctx, "/files/upload_session/start", sessionStartArg{}, content[:size])
	if err != nil {
		return nil, fmt.Errorf("starting upload session: %w", err)
	}

	var start sessionStartResponse
	if err := resp.DecodeJSON(&start); err != nil {
		return nil, err
	}

	offset := size

	for len(content)-offset > size {
		w.fs.logger.Debug("appending chunk", slog.Int("offset", offset), slog.Int("total", len(content)))

		arg := sessionAppendArg{Cursor: sessionCursor{SessionID: start.SessionID, Offset: offset}}
		if _, err := w.fs.content(ctx, "/files/upload_session/append_v2", arg, content[offset:offset+size]); err != nil {
			return nil, fmt.Errorf("appending at offset %d: %w", offset, err)
		}

		offset += size
	}

	arg := sessionFinishArg{Cursor: sessionCursor{SessionID: start.SessionID, Offset: offset}, Commit: commit}

	resp, err = w.fs.content(ctx, "/files/upload_session/finish", arg, content[offset:])
	if err != nil {
		return nil, fmt.Errorf("finishing upload session: %w", err)
	}

	return resp, nil
}

// contentHash computes the Dropbox content hash: SHA-256 over the
// concatenated SHA-256 digests of each 4 MiB block.
func contentHash(data []byte) string {
	overall := sha256.New()

	for start := 0; start < len(data); start += hashBlockSize {
		block := sha256.Sum256(data[start:min(start+hashBlockSize, len(data))])
		overall.Write(block[:])
	}

	return hex.EncodeToString(overall.Sum(nil))
}
