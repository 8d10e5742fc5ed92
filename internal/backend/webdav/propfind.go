package webdav

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:resourcetype/>
    <D:getcontentlength/>
    <D:getlastmodified/>
    <D:creationdate/>
    <D:getetag/>
  </D:prop>
</D:propfind>`

// getlastmodified is RFC 1123; creationdate is RFC 3339.
var (
	modifiedLayouts = []string{http.TimeFormat, time.RFC1123, time.RFC1123Z}
	createdLayouts  = []string{time.RFC3339Nano, http.TimeFormat}
)

type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type prop struct {
	ResourceType  resourceType `xml:"DAV: resourcetype"`
	ContentLength string       `xml:"DAV: getcontentlength"`
	LastModified  string       `xml:"DAV: getlastmodified"`
	CreationDate  string       `xml:"DAV: creationdate"`
	ETag          string       `xml:"DAV: getetag"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// entry merges the successful propstats of one response.
type entry struct {
	Href string
	prop
}

func (e *entry) isCollection() bool { return e.ResourceType.Collection != nil }

// path returns the decoded server path of the entry, without trailing slash.
func (e *entry) path() (string, error) {
	u, err := url.Parse(e.Href)
	if err != nil {
		return "", err
	}

	return pathutil.Normalize(u.Path), nil
}

func (e *entry) toFileInfo(name, p string) netdisk.FileInfo {
	fi := netdisk.FileInfo{
		Name:       name,
		Path:       p,
		Digest:     strings.Trim(e.ETag, `"`),
		IsDir:      e.isCollection(),
		CreatedAt:  netdisk.ParseTime(e.CreationDate, createdLayouts...),
		ModifiedAt: netdisk.ParseTime(e.LastModified, modifiedLayouts...),
	}

	if size, err := strconv.ParseUint(strings.TrimSpace(e.ContentLength), 10, 64); err == nil && !fi.IsDir {
		fi.Size = size
	}

	return fi
}

// propfind issues PROPFIND at the given depth and returns one entry per
// response, keeping only properties reported with a 200 status.
func (f *FS) propfind(ctx context.Context, p, depth string) ([]entry, error) {
	header := http.Header{
		"Depth":        {depth},
		"Content-Type": {`application/xml; charset="utf-8"`},
	}

	resp, err := f.do(ctx, "PROPFIND", href(p, true), header, []byte(propfindBody))
	if err != nil {
		return nil, err
	}

	if resp.status != http.StatusMultiStatus {
		return nil, fmt.Errorf("unexpected status %d: %w", resp.status, netdisk.ErrServerError)
	}

	var ms multistatus
	if err := xml.Unmarshal(resp.body, &ms); err != nil {
		return nil, fmt.Errorf("decoding multistatus: %w", err)
	}

	entries := make([]entry, 0, len(ms.Responses))

	for _, r := range ms.Responses {
		e := entry{Href: r.Href}

		for _, ps := range r.Propstats {
			if !strings.Contains(ps.Status, " 200 ") {
				continue
			}

			mergeProp(&e.prop, ps.Prop)
		}

		entries = append(entries, e)
	}

	return entries, nil
}

func mergeProp(dst *prop, src prop) {
	if src.ResourceType.Collection != nil {
		dst.ResourceType = src.ResourceType
	}

	if src.ContentLength != "" {
		dst.ContentLength = src.ContentLength
	}

	if src.LastModified != "" {
		dst.LastModified = src.LastModified
	}

	if src.CreationDate != "" {
		dst.CreationDate = src.CreationDate
	}

	if src.ETag != "" {
		dst.ETag = src.ETag
	}
}
