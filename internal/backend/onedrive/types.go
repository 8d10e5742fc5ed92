package onedrive

import (
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
)

type driveResponse struct {
	ID        string `json:"id"`
	DriveType string `json:"driveType"`
}

// driveItem mirrors the Graph driveItem fields this adapter reads.
type driveItem struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	WebURL               string       `json:"webUrl"`
	CreatedDateTime      string       `json:"createdDateTime"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
	SHA1Hash     string `json:"sha1Hash"`
	SHA256Hash   string `json:"sha256Hash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type childrenResponse struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

type createFolderRequest struct {
	Name             string   `json:"name"`
	Folder           struct{} `json:"folder"`
	ConflictBehavior string   `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type uploadSessionResponse struct {
	UploadURL          string `json:"uploadUrl"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

func (d *driveItem) toFileInfo(p string) netdisk.FileInfo {
	fi := netdisk.FileInfo{
		ID:         d.ID,
		Name:       d.Name,
		Path:       p,
		IsDir:      d.Folder != nil,
		CreatedAt:  netdisk.ParseTime(d.CreatedDateTime),
		ModifiedAt: netdisk.ParseTime(d.LastModifiedDateTime),
	}

	if d.Folder == nil && d.Size > 0 {
		fi.Size = uint64(d.Size)
	}

	if d.File != nil && d.File.Hashes != nil {
		switch {
		case d.File.Hashes.QuickXorHash != "":
			fi.Digest = d.File.Hashes.QuickXorHash
		case d.File.Hashes.SHA256Hash != "":
			fi.Digest = d.File.Hashes.SHA256Hash
		default:
			fi.Digest = d.File.Hashes.SHA1Hash
		}
	}

	return fi
}
