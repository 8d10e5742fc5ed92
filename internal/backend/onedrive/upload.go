package onedrive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/netdisk-go/internal/api"
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
)

const (
	// chunkAlignment is the required alignment for upload session chunks.
	chunkAlignment = 320 * 1024
	// simpleUploadMaxSize is the largest body accepted by a single PUT.
	simpleUploadMaxSize = 4 * 1024 * 1024
	// DefaultChunkSize is used when Options.ChunkSize is zero.
	DefaultChunkSize = 32 * chunkAlignment
)

// ErrHashMismatch means the stored content's hash differs from what was sent.
var ErrHashMismatch = errors.New("onedrive: uploaded content hash mismatch")

func alignChunk(size int) int {
	if size <= 0 {
		return DefaultChunkSize
	}

	return max(size/chunkAlignment, 1) * chunkAlignment
}

type writer struct {
	fs   *FS
	path string
}

// Write replaces the file. Small files use one PUT; larger ones an upload
// session. The hash OneDrive reports for the stored item is checked against
// the content.
func (w *writer) Write(ctx context.Context, content []byte) error {
	var (
		item *driveItem
		err  error
	)

	if len(content) <= simpleUploadMaxSize {
		item, err = w.simpleUpload(ctx, content)
	} else {
		item, err = w.sessionUpload(ctx, content)
	}

	if err != nil {
		return fmt.Errorf("onedrive: writing %s: %w", w.path, err)
	}

	w.fs.ids.Put(w.path, item.ID)

	if item.File != nil && item.File.Hashes != nil && item.File.Hashes.QuickXorHash != "" {
		if got := quickXorHash(content); got != item.File.Hashes.QuickXorHash {
			return fmt.Errorf("onedrive: writing %s: %w (local %s, remote %s)",
				w.path, ErrHashMismatch, got, item.File.Hashes.QuickXorHash)
		}
	}

	w.fs.logger.Info("uploaded", slog.String("path", w.path), slog.Int("bytes", len(content)))

	return nil
}

func (w *writer) simpleUpload(ctx context.Context, content []byte) (*driveItem, error) {
	resp, err := w.fs.client.Do(ctx, &api.Request{
		Method: http.MethodPut,
		URL:    w.fs.itemURL(w.path) + "/content",
		Header: http.Header{"Content-Type": {"application/octet-stream"}},
		Body:   content,
	})
	if err != nil {
		return nil, err
	}

	var item driveItem
	if err := resp.DecodeJSON(&item); err != nil {
		return nil, err
	}

	return &item, nil
}

func (w *writer) sessionUpload(ctx context.Context, content []byte) (*driveItem, error) {
	var session uploadSessionResponse

	req := createUploadSessionRequest{Item: uploadSessionItem{ConflictBehavior: "replace"}}
	if err := w.fs.client.JSON(ctx, http.MethodPost, w.fs.itemURL(w.path)+"/createUploadSession", req, &session); err != nil {
		return nil, fmt.Errorf("creating upload session: %w", err)
	}

	total := len(content)

	for offset := 0; offset < total; offset += w.fs.chunkSize {
		end := min(offset+w.fs.chunkSize, total)

		w.fs.logger.Debug("uploading chunk",
			slog.Int("offset", offset),
			slog.Int("length", end-offset),
			slog.Int("total", total),
		)

		// The session URL is pre-authenticated.
		resp, err := w.fs.client.Do(ctx, &api.Request{
			Method: http.MethodPut,
			URL:    session.UploadURL,
			Header: http.Header{
				"Content-Range": {fmt.Sprintf("bytes %d-%d/%d", offset, end-1, total)},
				"Content-Type":  {"application/octet-stream"},
			},
			Body:      content[offset:end],
			Anonymous: true,
		})
		if err != nil {
			w.cancelSession(session.UploadURL)
			return nil, fmt.Errorf("uploading bytes %d-%d: %w", offset, end-1, err)
		}

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			var item driveItem
			if err := resp.DecodeJSON(&item); err != nil {
				return nil, err
			}

			return &item, nil
		}
	}

	return nil, fmt.Errorf("upload session ended without a completed item: %w", netdisk.ErrServerError)
}

// cancelSession discards a failed session. Best-effort: the session expires
// on its own.
func (w *writer) cancelSession(uploadURL string) {
	_, err := w.fs.client.Do(context.Background(), &api.Request{
		Method:    http.MethodDelete,
		URL:       uploadURL,
		Anonymous: true,
	})
	if err != nil {
		w.fs.logger.Warn("canceling upload session", slog.String("error", err.Error()))
	}
}
