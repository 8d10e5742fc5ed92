package dropbox

import (
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
)

const (
	tagFolder  = "folder"
	tagDeleted = "deleted"
)

type accountResponse struct {
	AccountID string `json:"account_id"`
}

type pathArg struct {
	Path string `json:"path"`
}

type listFolderArg struct {
	Path  string `json:"path"`
	Limit int    `json:"limit,omitempty"`
}

type cursorArg struct {
	Cursor string `json:"cursor"`
}

type createFolderArg struct {
	Path       string `json:"path"`
	Autorename bool   `json:"autorename"`
}

type commitInfo struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Mute bool   `json:"mute"`
}

type sessionCursor struct {
	SessionID string `json:"session_id"`
	Offset    int    `json:"offset"`
}

type sessionStartArg struct {
	Close bool `json:"close"`
}

type sessionStartResponse struct {
	SessionID string `json:"session_id"`
}

type sessionAppendArg struct {
	Cursor sessionCursor `json:"cursor"`
	Close  bool          `json:"close"`
}

type sessionFinishArg struct {
	Cursor sessionCursor `json:"cursor"`
	Commit commitInfo    `json:"commit"`
}

// metadata is a file, folder or deleted entry; Tag discriminates.
type metadata struct {
	Tag            string `json:".tag"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	PathDisplay    string `json:"path_display"`
	ClientModified string `json:"client_modified"`
	ServerModified string `json:"server_modified"`
	Size           uint64 `json:"size"`
	ContentHash    string `json:"content_hash"`
}

type listFolderResponse struct {
	Entries []metadata `json:"entries"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"has_more"`
}

// toFileInfo maps an entry. Dropbox keeps no creation time; the client
// modification time stands in for it.
func (m *metadata) toFileInfo(p string) netdisk.FileInfo {
	return netdisk.FileInfo{
		ID:         m.ID,
		Name:       m.Name,
		Path:       p,
		Size:       m.Size,
		Digest:     m.ContentHash,
		IsDir:      m.Tag == tagFolder,
		CreatedAt:  netdisk.ParseTime(m.ClientModified),
		ModifiedAt: netdisk.ParseTime(m.ServerModified),
	}
}
