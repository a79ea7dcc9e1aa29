package editor

import "encoding/json"

// Inbound event names.
const (
	evJoinProjectRoom  = "joinProjectRoom"
	evLeaveProjectRoom = "leaveProjectRoom"
	evJoinFileRoom     = "joinFileRoom"
	evLeaveFileRoom    = "leaveFileRoom"
	evLockFile         = "lockFile"
	evTransferLock     = "transferLock"
	evRequestLock      = "requestLock"
	evWriteFile        = "writeFile"
	evReadFile         = "readFile"
	evCreateFile       = "createFile"
	evDeleteFile       = "deleteFile"
	evCreateFolder     = "createFolder"
	evDeleteFolder     = "deleteFolder"
	evGetPort          = "getPort"
)

// envelope is the wire shape for inbound socket messages.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// filePayload covers the common {projectId, filePath} inbound shape.
type filePayload struct {
	ProjectID string `json:"projectId"`
	FilePath  string `json:"filePath"`
}

type writeFilePayload struct {
	FilePath string `json:"filePath"`
	Data     string `json:"data"`
}

type transferLockPayload struct {
	FilePath string `json:"filePath"`
	ToUserID string `json:"toUserId"`
}
