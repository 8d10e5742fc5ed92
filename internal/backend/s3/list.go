package s3

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

type listBucketResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	IsTruncated           bool           `xml:"IsTruncated"`
	NextContinuationToken string         `xml:"NextContinuationToken"`
	Contents              []object       `xml:"Contents"`
	CommonPrefixes        []commonPrefix `xml:"CommonPrefixes"`
}

type object struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         uint64 `xml:"Size"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

// listPages runs ListObjectsV2 under prefix, calling fn for every page.
// An empty delim lists recursively.
func (f *FS) listPages(ctx context.Context, prefix, delim string, fn func(*listBucketResult) error) error {
	pager := netdisk.NewPager(Name)

	q := url.Values{
		"list-type": {"2"},
		"prefix":    {prefix},
		"max-keys":  {strconv.Itoa(f.pageSize)},
	}

	if delim != "" {
		q.Set("delimiter", delim)
	}

	for {
		if err := pager.Next(); err != nil {
			return err
		}

		resp, err := f.do(ctx, http.MethodGet, "", q, nil, nil)
		if err != nil {
			return err
		}

		var page listBucketResult
		if err := xml.Unmarshal(resp.body, &page); err != nil {
			return fmt.Errorf("s3: decoding listing: %w", err)
		}

		if err := fn(&page); err != nil {
			return err
		}

		if !page.IsTruncated || page.NextContinuationToken == "" {
			return nil
		}

		q.Set("continuation-token", page.NextContinuationToken)
	}
}

// List implements netdisk.FileSystem.
func (f *FS) List(ctx context.Context) ([]netdisk.FileInfo, error) {
	return netdisk.Files(f.Entries(ctx))
}

// Entries implements netdisk.FileSystem. Objects become files and common
// prefixes become directories; the prefix's own placeholder is skipped.
func (f *FS) Entries(ctx context.Context) ([]netdisk.FileInfo, error) {
	prefix := dirPrefix(f.base)

	f.logger.Info("listing prefix", slog.String("prefix", prefix))

	var files []netdisk.FileInfo

	err := f.listPages(ctx, prefix, delimiter, func(page *listBucketResult) error {
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(cp.Prefix, prefix), delimiter)
			if name == "" {
				continue
			}

			files = append(files, netdisk.FileInfo{
				Name:  name,
				Path:  pathutil.Join(f.base, name),
				IsDir: true,
			})
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(obj.Key, prefix)
			if name == "" || strings.HasSuffix(name, delimiter) {
				continue
			}

			modified := netdisk.ParseTime(obj.LastModified)

			files = append(files, netdisk.FileInfo{
				ID:         obj.Key,
				Name:       name,
				Path:       pathutil.Join(f.base, name),
				Size:       obj.Size,
				Digest:     strings.Trim(obj.ETag, `"`),
				CreatedAt:  modified,
				ModifiedAt: modified,
			})
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("s3: listing %s: %w", f.base, err)
	}

	return files, nil
}
