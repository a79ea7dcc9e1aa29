package editor

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/codeflow-dev/codeflow/internal/hub"
)

// errPathEscapes rejects file paths that resolve outside the project
// working directory.
var errPathEscapes = errors.New("editor: path escapes project directory")

func (h *Handler) projectPath(projectID string) string {
	return filepath.Join(h.projectsDir, projectID)
}

// resolvePath maps a client-supplied project-relative path onto the
// filesystem, refusing anything that would escape the project root.
func (h *Handler) resolvePath(projectID, filePath string) (string, error) {
	root := h.projectPath(projectID)
	full := filepath.Join(root, filepath.FromSlash(filePath))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errPathEscapes
	}
	return full, nil
}

func (h *Handler) sendError(sess *Session, msg string) {
	sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"data": msg}})
}

func (h *Handler) handleWriteFile(sess *Session, p writeFilePayload) {
	full, err := h.resolvePath(sess.ProjectID, p.FilePath)
	if err != nil {
		h.sendError(sess, "Error writing the file")
		return
	}
	if err := os.WriteFile(full, []byte(p.Data), 0644); err != nil {
		slog.Warn("writeFile failed", "error", err, "file_path", p.FilePath, "user_id", sess.UserID)
		h.sendError(sess, "Error writing the file")
		return
	}

	h.hub.Broadcast(fileRoom(sess.ProjectID, p.FilePath), hub.Event{Name: "writeFileSuccess", Data: map[string]string{
		"data":     "File written successfully",
		"filePath": p.FilePath,
	}})
}

func (h *Handler) handleReadFile(sess *Session, filePath string) {
	full, err := h.resolvePath(sess.ProjectID, filePath)
	if err != nil {
		h.sendError(sess, "Error reading the file")
		return
	}
	content, err := os.ReadFile(full)
	if err != nil {
		slog.Warn("readFile failed", "error", err, "file_path", filePath, "user_id", sess.UserID)
		h.sendError(sess, "Error reading the file")
		return
	}

	sess.Client.Send(hub.Event{Name: "readFileSuccess", Data: map[string]string{
		"value":     string(content),
		"filePath":  filePath,
		"extension": filepath.Ext(filePath),
	}})
}

func (h *Handler) handleCreateFile(sess *Session, filePath string) {
	full, err := h.resolvePath(sess.ProjectID, filePath)
	if err != nil {
		h.sendError(sess, "Error creating the file")
		return
	}
	if err := os.WriteFile(full, nil, 0644); err != nil {
		slog.Warn("createFile failed", "error", err, "file_path", filePath, "user_id", sess.UserID)
		h.sendError(sess, "Error creating the file")
		return
	}

	sess.Client.Send(hub.Event{Name: "createFileSuccess", Data: map[string]string{"data": "File created successfully"}})
	h.hub.Broadcast(sess.ProjectID, hub.Event{Name: "fileCreated", Data: map[string]string{"path": filePath}})
}

func (h *Handler) handleDeleteFile(sess *Session, filePath string) {
	full, err := h.resolvePath(sess.ProjectID, filePath)
	if err != nil {
		h.sendError(sess, "Failed to delete file")
		return
	}
	if err := os.Remove(full); err != nil {
		slog.Warn("deleteFile failed", "error", err, "file_path", filePath, "user_id", sess.UserID)
		h.sendError(sess, "Failed to delete file")
		return
	}

	h.hub.Broadcast(sess.ProjectID, hub.Event{Name: "fileDeleted", Data: map[string]string{"path": filePath}})
	sess.Client.Send(hub.Event{Name: "deleteFileSuccess", Data: map[string]string{"data": "File deleted"}})
}

func (h *Handler) handleCreateFolder(sess *Session, filePath string) {
	full, err := h.resolvePath(sess.ProjectID, filePath)
	if err != nil {
		h.sendError(sess, "Error creating the folder")
		return
	}
	if err := os.MkdirAll(full, 0755); err != nil {
		slog.Warn("createFolder failed", "error", err, "file_path", filePath, "user_id", sess.UserID)
		h.sendError(sess, "Error creating the folder")
		return
	}

	sess.Client.Send(hub.Event{Name: "createFolderSuccess", Data: map[string]string{"data": "Folder created successfully"}})
	h.hub.Broadcast(sess.ProjectID, hub.Event{Name: "folderCreated", Data: map[string]string{"path": filePath}})
}

func (h *Handler) handleDeleteFolder(sess *Session, filePath string) {
	full, err := h.resolvePath(sess.ProjectID, filePath)
	if err != nil {
		h.sendError(sess, "Error deleting the folder")
		return
	}
	if err := os.RemoveAll(full); err != nil {
		slog.Warn("deleteFolder failed", "error", err, "file_path", filePath, "user_id", sess.UserID)
		h.sendError(sess, "Error deleting the folder")
		return
	}

	h.hub.Broadcast(sess.ProjectID, hub.Event{Name: "folderDeleted", Data: map[string]string{"path": filePath}})
	sess.Client.Send(hub.Event{Name: "deleteFolderSuccess", Data: map[string]string{"data": "Folder deleted successfully"}})
}
