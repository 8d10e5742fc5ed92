package yandex

import (
	"time"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
)

// Yandex emits offsets like "+00:00", which RFC 3339 accepts.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05-0700"}

type diskResponse struct {
	TotalSpace int64 `json:"total_space"`
	UsedSpace  int64 `json:"used_space"`
}

type resource struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Type       string `json:"type"`
	Size       uint64 `json:"size"`
	MD5        string `json:"md5"`
	SHA256     string `json:"sha256"`
	Created    string `json:"created"`
	Modified   string `json:"modified"`
	ResourceID string `json:"resource_id"`
}

type resourceList struct {
	Items []resource `json:"items"`
	Total int        `json:"total"`
}

type resourceResponse struct {
	Embedded *resourceList `json:"_embedded"`
}

type linkResponse struct {
	Href   string `json:"href"`
	Method string `json:"method"`
}

type operationResponse struct {
	Status string `json:"status"`
}

func (r *resource) toFileInfo(p string) netdisk.FileInfo {
	digest := r.MD5
	if digest == "" {
		digest = r.SHA256
	}

	return netdisk.FileInfo{
		ID:         r.ResourceID,
		Name:       r.Name,
		Path:       p,
		Size:       r.Size,
		Digest:     digest,
		IsDir:      r.Type == "dir",
		CreatedAt:  netdisk.ParseTime(r.Created, timeLayouts...),
		ModifiedAt: netdisk.ParseTime(r.Modified, timeLayouts...),
	}
}
