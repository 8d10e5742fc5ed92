package gdrive

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // Drive reports MD5 checksums
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/tonimelisma/netdisk-go/internal/api"
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

// ErrChecksumMismatch means the stored content's MD5 differs from what was sent.
var ErrChecksumMismatch = errors.New("gdrive: uploaded content checksum mismatch")

type writer struct {
	fs   *FS
	path string
}

// Write overwrites the file's media when it exists, otherwise creates it in
// the parent folder with a multipart upload. The parent must exist.
func (w *writer) Write(ctx context.Context, content []byte) error {
	var stored *file

	err := w.fs.withID(ctx, w.path, func(id string) error {
		var err error
		stored, err = w.update(ctx, id, content)

		return err
	})
	if netdisk.IsNotFound(err) && !netdisk.IsRemoteNotFound(err) {
		stored, err = w.create(ctx, content)
	}

	if err != nil {
		return fmt.Errorf("gdrive: writing %s: %w", w.path, err)
	}

	w.fs.ids.Put(w.path, stored.ID)

	if stored.MD5Checksum != "" {
		sum := md5.Sum(content) //nolint:gosec // integrity check, not security
		if got := hex.EncodeToString(sum[:]); got != stored.MD5Checksum {
			return fmt.Errorf("gdrive: writing %s: %w (local %s, remote %s)",
				w.path, ErrChecksumMismatch, got, stored.MD5Checksum)
		}
	}

	w.fs.logger.Info("uploaded", slog.String("path", w.path), slog.Int("bytes", len(content)))

	return nil
}

func (w *writer) update(ctx context.Context, id string, content []byte) (*file, error) {
	resp, err := w.fs.client.Do(ctx, &api.Request{
		Method: http.MethodPatch,
		URL:    w.fs.uploadURL + "/files/" + url.PathEscape(id) + "?uploadType=media&fields=id,md5Checksum",
		Header: http.Header{"Content-Type": {"application/octet-stream"}},
		Body:   content,
	})
	if err != nil {
		return nil, err
	}

	var out file

	return &out, resp.DecodeJSON(&out)
}

func (w *writer) create(ctx context.Context, content []byte) (*file, error) {
	var out file

	err := w.fs.withID(ctx, pathutil.Parent(w.path), func(parentID string) error {
		body, contentType, err := multipartBody(fileMetadata{
			Name:    pathutil.Base(w.path),
			Parents: []string{parentID},
		}, content)
		if err != nil {
			return err
		}

		resp, err := w.fs.client.Do(ctx, &api.Request{
			Method: http.MethodPost,
			URL:    w.fs.uploadURL + "/files?uploadType=multipart&fields=id,md5Checksum",
			Header: http.Header{"Content-Type": {contentType}},
			Body:   body,
		})
		if err != nil {
			return err
		}

		return resp.DecodeJSON(&out)
	})
	if err != nil {
		return nil, fmt.Errorf("creating in parent: %w", err)
	}

	return &out, nil
}

// multipartBody builds a multipart/related body: JSON metadata, then media.
func multipartBody(meta fileMetadata, content []byte) ([]byte, string, error) {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", fmt.Errorf("encoding metadata: %w", err)
	}

	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, "", err
	}

	if _, err := part.Write(metaJSON); err != nil {
		return nil, "", err
	}

	part, err = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/octet-stream"}})
	if err != nil {
		return nil, "", err
	}

	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), "multipart/related; boundary=" + mw.Boundary(), nil
}
