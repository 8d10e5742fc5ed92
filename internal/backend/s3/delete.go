package s3

import (
	"context"
	"crypto/md5" //nolint:gosec // Content-MD5 is required by DeleteObjects
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

// ErrPartialDelete means a batch delete reported per-key failures.
var ErrPartialDelete = errors.New("s3: some objects could not be deleted")

type deleteRequest struct {
	XMLName xml.Name           `xml:"Delete"`
	Quiet   bool               `xml:"Quiet"`
	Objects []objectIdentifier `xml:"Object"`
}

type objectIdentifier struct {
	Key string `xml:"Key"`
}

type deleteResult struct {
	Errors []deleteError `xml:"Error"`
}

type deleteError struct {
	Key     string `xml:"Key"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

// Delete implements netdisk.FileSystem. It removes the object at p and
// every object under p/, so deleting a directory is recursive. Missing keys
// are success.
func (f *FS) Delete(ctx context.Context, p string) error {
	full := pathutil.Join(f.base, p)
	if pathutil.IsRoot(full) {
		return fmt.Errorf("s3: refusing to delete the bucket root: %w", netdisk.ErrNotSupported)
	}

	key := objectKey(full)

	_, err := f.do(ctx, http.MethodDelete, key, nil, nil, nil)
	if err != nil && !netdisk.IsNotFound(err) {
		return fmt.Errorf("s3: deleting %s: %w", full, err)
	}

	removed := 0

	err = f.listPages(ctx, key+delimiter, "", func(page *listBucketResult) error {
		if len(page.Contents) == 0 {
			return nil
		}

		keys := make([]string, len(page.Contents))
		for i, obj := range page.Contents {
			keys[i] = obj.Key
		}

		removed += len(keys)

		return f.deleteBatch(ctx, keys)
	})
	if err != nil {
		return fmt.Errorf("s3: deleting %s: %w", full, err)
	}

	f.logger.Info("deleted", slog.String("path", full), slog.Int("nested_objects", removed))

	return nil
}

// deleteBatch removes up to 1000 keys with one DeleteObjects call.
func (f *FS) deleteBatch(ctx context.Context, keys []string) error {
	req := deleteRequest{Quiet: true, Objects: make([]objectIdentifier, len(keys))}
	for i, k := range keys {
		req.Objects[i] = objectIdentifier{Key: k}
	}

	body, err := xml.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding delete request: %w", err)
	}

	sum := md5.Sum(body) //nolint:gosec // required checksum, not security
	header := http.Header{
		"Content-Type": {"application/xml"},
		"Content-Md5":  {base64.StdEncoding.EncodeToString(sum[:])},
	}

	resp, err := f.do(ctx, http.MethodPost, "", url.Values{"delete": {""}}, header, body)
	if err != nil {
		return err
	}

	var result deleteResult
	if len(resp.body) > 0 {
		if err := xml.Unmarshal(resp.body, &result); err != nil {
			return fmt.Errorf("decoding delete result: %w", err)
		}
	}

	var errs []error

	for _, e := range result.Errors {
		if e.Code == "NoSuchKey" {
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %s: %s", e.Key, e.Code, e.Message))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPartialDelete, errors.Join(errs...))
	}

	return nil
}
