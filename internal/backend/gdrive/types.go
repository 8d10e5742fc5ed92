package gdrive

import (
	"strconv"

	"github.com/tonimelisma/netdisk-go/internal/netdisk"
)

type aboutResponse struct {
	User struct {
		EmailAddress string `json:"emailAddress"`
	} `json:"user"`
}

// file mirrors the Drive v3 file resource fields this adapter requests.
// Size is a decimal string in the v3 wire format.
type file struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Size         string `json:"size"`
	MD5Checksum  string `json:"md5Checksum"`
	CreatedTime  string `json:"createdTime"`
	ModifiedTime string `json:"modifiedTime"`
}

type fileList struct {
	Files         []file `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

type fileMetadata struct {
	Name     string   `json:"name,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
	Parents  []string `json:"parents,omitempty"`
}

func (d *file) isFolder() bool { return d.MimeType == folderMimeType }

func (d *file) toFileInfo(p string) netdisk.FileInfo {
	fi := netdisk.FileInfo{
		ID:         d.ID,
		Name:       d.Name,
		Path:       p,
		Digest:     d.MD5Checksum,
		IsDir:      d.isFolder(),
		CreatedAt:  netdisk.ParseTime(d.CreatedTime),
		ModifiedAt: netdisk.ParseTime(d.ModifiedTime),
	}

	if size, err := strconv.ParseUint(d.Size, 10, 64); err == nil {
		fi.Size = size
	}

	return fi
}
