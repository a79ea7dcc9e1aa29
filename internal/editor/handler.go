// Package editor implements the collaborative editor socket: presence,
// file locks, room broadcast, and file mutation, with a per-connection
// lifecycle that sweeps all held state on disconnect.
package editor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/codeflow-dev/codeflow/internal/auth"
	"github.com/codeflow-dev/codeflow/internal/directory"
	"github.com/codeflow-dev/codeflow/internal/hub"
	"github.com/codeflow-dev/codeflow/internal/lock"
	"github.com/codeflow-dev/codeflow/internal/presence"
	"github.com/codeflow-dev/codeflow/internal/projectsync"
	"github.com/codeflow-dev/codeflow/internal/sandbox"
)

// Handler owns the editor WebSocket endpoint.
type Handler struct {
	authn       *auth.Authenticator
	registry    *presence.Registry
	locks       *lock.Manager
	hub         *hub.Hub
	dir         directory.Directory
	mgr         sandbox.Manager
	syncer      projectsync.Syncer
	projectsDir string
	isDev       bool
}

// NewHandler creates the editor socket handler.
func NewHandler(
	authn *auth.Authenticator,
	registry *presence.Registry,
	locks *lock.Manager,
	h *hub.Hub,
	dir directory.Directory,
	mgr sandbox.Manager,
	syncer projectsync.Syncer,
	projectsDir string,
	isDev bool,
) *Handler {
	return &Handler{
		authn:       authn,
		registry:    registry,
		locks:       locks,
		hub:         h,
		dir:         dir,
		mgr:         mgr,
		syncer:      syncer,
		projectsDir: projectsDir,
		isDev:       isDev,
	}
}

func fileRoom(projectID, filePath string) string {
	return projectID + ":" + filePath
}

// ServeHTTP upgrades the connection, authenticates it, admits it into the
// project room, and runs the event loop until disconnect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authn.Identify(r)
	if err != nil {
		slog.Warn("Editor connection rejected", "error", err, "ip", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		http.Error(w, "projectId is required", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept editor WebSocket", "error", err, "user_id", userID)
		return
	}

	client := hub.NewClient(userID)
	sess := NewSession(userID, projectID, client)

	slog.Info("Editor connected", "user_id", userID, "project_id", projectID, "conn_id", client.ID())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writePump(ctx, ws, client, cancel)

	// Admit into the project room before any events are processed so the
	// joiner renders existing participants immediately.
	h.handleJoinProject(ctx, sess)

	h.readLoop(ctx, ws, sess)

	// The disconnect sweep runs on a detached context: disconnect is an
	// asynchronous cancellation and cleanup must survive it.
	h.cleanup(sess)

	if err := ws.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
		slog.Debug("Failed to close editor websocket", "error", err, "user_id", userID)
	}
}

// writePump drains the hub client queue into the socket.
func (h *Handler) writePump(ctx context.Context, ws *websocket.Conn, client *hub.Client, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case payload, ok := <-client.Out():
			if !ok {
				return
			}
			if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
				if ctx.Err() == nil {
					slog.Debug("Editor write error", "error", err, "user_id", client.UserID())
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, sess *Session) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, io.EOF) {
				slog.Debug("Editor socket closed by client", "user_id", sess.UserID)
			} else if ctx.Err() == nil {
				slog.Warn("Editor read error", "error", err, "user_id", sess.UserID)
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"data": "malformed message"}})
			continue
		}

		// Each event runs as its own task with its own error boundary so
		// one failing handler never takes down the connection or leaks a
		// panic into other connections.
		go h.dispatch(ctx, sess, env)
	}
}

func (h *Handler) dispatch(ctx context.Context, sess *Session, env envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Editor event handler panicked", "event", env.Event, "user_id", sess.UserID, "panic", rec)
			sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"data": "internal error"}})
		}
	}()

	switch env.Event {
	case evJoinProjectRoom:
		h.handleJoinProject(ctx, sess)
	case evLeaveProjectRoom:
		h.handleLeaveProject(ctx, sess)
	case evJoinFileRoom:
		h.withFilePayload(sess, env, func(p filePayload) { h.handleJoinFile(ctx, sess, p.FilePath) })
	case evLeaveFileRoom:
		h.withFilePayload(sess, env, func(p filePayload) { h.handleLeaveFile(ctx, sess, p.FilePath) })
	case evLockFile:
		h.withFilePayload(sess, env, func(p filePayload) { h.handleLockFile(ctx, sess, p.FilePath) })
	case evTransferLock:
		var p transferLockPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.FilePath == "" || p.ToUserID == "" {
			sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"data": "malformed payload"}})
			return
		}
		h.handleTransferLock(ctx, sess, p)
	case evRequestLock:
		h.withFilePayload(sess, env, func(p filePayload) { h.handleRequestLock(ctx, sess, p.FilePath) })
	case evWriteFile:
		var p writeFilePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.FilePath == "" {
			sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"data": "malformed payload"}})
			return
		}
		h.handleWriteFile(sess, p)
	case evReadFile:
		h.withFilePayload(sess, env, func(p filePayload) { h.handleReadFile(sess, p.FilePath) })
	case evCreateFile:
		h.withFilePayload(sess, env, func(p filePayload) { h.handleCreateFile(sess, p.FilePath) })
	case evDeleteFile:
		h.withFilePayload(sess, env, func(p filePayload) { h.handleDeleteFile(sess, p.FilePath) })
	case evCreateFolder:
		h.withFilePayload(sess, env, func(p filePayload) { h.handleCreateFolder(sess, p.FilePath) })
	case evDeleteFolder:
		h.withFilePayload(sess, env, func(p filePayload) { h.handleDeleteFolder(sess, p.FilePath) })
	case evGetPort:
		h.handleGetPort(ctx, sess)
	default:
		slog.Debug("Unknown editor event", "event", env.Event, "user_id", sess.UserID)
	}
}

func (h *Handler) withFilePayload(sess *Session, env envelope, fn func(filePayload)) {
	var p filePayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.FilePath == "" {
		sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"data": "malformed payload"}})
		return
	}
	fn(p)
}

func (h *Handler) handleJoinProject(ctx context.Context, sess *Session) {
	h.hub.Join(sess.ProjectID, sess.Client)

	users, err := h.registry.JoinProject(ctx, sess.ProjectID, sess.UserID)
	if err != nil {
		slog.Error("Failed to join project room", "error", err, "user_id", sess.UserID, "project_id", sess.ProjectID)
		sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"data": "failed to join project"}})
		return
	}

	self := directory.Resolve(ctx, h.dir, sess.UserID)
	h.hub.Broadcast(sess.ProjectID, hub.Event{Name: "userJoinedProject", Data: self})

	sess.Client.Send(hub.Event{Name: "initialUsers", Data: users})
}

func (h *Handler) handleLeaveProject(ctx context.Context, sess *Session) {
	if err := h.registry.LeaveProject(ctx, sess.ProjectID, sess.UserID); err != nil {
		slog.Error("Failed to leave project room", "error", err, "user_id", sess.UserID, "project_id", sess.ProjectID)
	}
	h.hub.Broadcast(sess.ProjectID, hub.Event{Name: "userLeftProject", Data: map[string]string{"userId": sess.UserID}})
	h.hub.Leave(sess.ProjectID, sess.Client)
}

func (h *Handler) handleJoinFile(ctx context.Context, sess *Session, filePath string) {
	room := fileRoom(sess.ProjectID, filePath)
	h.hub.Join(room, sess.Client)
	sess.TrackFileRoom(filePath)

	users, err := h.registry.JoinFile(ctx, sess.ProjectID, filePath, sess.UserID)
	if err != nil {
		slog.Error("Failed to join file room", "error", err, "user_id", sess.UserID, "file_path", filePath)
		sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"data": "failed to join file"}})
		return
	}

	self := directory.Resolve(ctx, h.dir, sess.UserID)
	h.hub.Broadcast(room, hub.Event{Name: "userJoinedFile", Data: map[string]any{
		"userId":    self.UserID,
		"username":  self.Username,
		"avatarUrl": self.AvatarURL,
		"filePath":  filePath,
	}})

	sess.Client.Send(hub.Event{Name: "initialFileUsers", Data: map[string]any{
		"filePath": filePath,
		"users":    users,
	}})

	// Late joiners see current lock state immediately. A missing record
	// reads as unlocked; expiry never broadcasts.
	holder, err := h.locks.Holder(ctx, filePath)
	if err != nil {
		slog.Error("Failed to read lock state on join", "error", err, "file_path", filePath)
		return
	}
	if holder != "" {
		sess.Client.Send(hub.Event{Name: "fileLocked", Data: map[string]string{"filePath": filePath, "userId": holder}})
		sess.Client.Send(hub.Event{Name: "initialFileLocks", Data: map[string]any{
			"fileLocks": map[string]string{filePath: holder},
		}})
	}
}

func (h *Handler) handleLeaveFile(ctx context.Context, sess *Session, filePath string) {
	room := fileRoom(sess.ProjectID, filePath)

	if err := h.registry.LeaveFile(ctx, sess.ProjectID, filePath, sess.UserID); err != nil {
		slog.Error("Failed to leave file room", "error", err, "user_id", sess.UserID, "file_path", filePath)
	}
	sess.UntrackFileRoom(filePath)

	h.hub.Broadcast(room, hub.Event{Name: "userLeftFile", Data: map[string]string{
		"userId":   sess.UserID,
		"filePath": filePath,
	}})

	// Leaving the file room gives up a lock held there.
	released, err := h.locks.Release(ctx, filePath, sess.UserID)
	if err != nil {
		slog.Error("Failed to release lock on file leave", "error", err, "file_path", filePath)
	} else if released {
		sess.UntrackLock(filePath)
		h.hub.Broadcast(room, hub.Event{Name: "fileUnlocked", Data: map[string]string{"filePath": filePath}})
	}

	h.hub.Leave(room, sess.Client)
}

func (h *Handler) handleLockFile(ctx context.Context, sess *Session, filePath string) {
	granted, holder, err := h.locks.Acquire(ctx, filePath, sess.UserID)
	if err != nil {
		slog.Error("Failed to acquire lock", "error", err, "user_id", sess.UserID, "file_path", filePath)
		sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"data": "failed to acquire lock"}})
		return
	}

	if granted {
		sess.TrackLock(filePath)
		h.hub.Broadcast(fileRoom(sess.ProjectID, filePath), hub.Event{Name: "fileLocked", Data: map[string]string{
			"filePath": filePath,
			"userId":   sess.UserID,
		}})
		return
	}

	// Contention is a normal, user-visible outcome: tell the requester
	// who holds the lock, nothing goes to the room.
	if holder != "" {
		sess.Client.Send(hub.Event{Name: "fileLocked", Data: map[string]string{
			"filePath": filePath,
			"userId":   holder,
		}})
	}
}

func (h *Handler) handleTransferLock(ctx context.Context, sess *Session, p transferLockPayload) {
	err := h.locks.Transfer(ctx, p.FilePath, sess.UserID, p.ToUserID)
	switch {
	case errors.Is(err, lock.ErrNoLock):
		sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"message": "No lock found to transfer"}})
		return
	case errors.Is(err, lock.ErrNotHolder):
		sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"message": "You don't hold the lock"}})
		return
	case err != nil:
		slog.Error("Failed to transfer lock", "error", err, "file_path", p.FilePath)
		sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"message": "Lock transfer failed"}})
		return
	}

	sess.UntrackLock(p.FilePath)
	h.hub.Broadcast(fileRoom(sess.ProjectID, p.FilePath), hub.Event{Name: "fileLocked", Data: map[string]string{
		"filePath": p.FilePath,
		"userId":   p.ToUserID,
	}})
}

func (h *Handler) handleRequestLock(ctx context.Context, sess *Session, filePath string) {
	requester := directory.Resolve(ctx, h.dir, sess.UserID)

	// Non-binding: names the requester so the holder can transfer
	// voluntarily. Lock state does not change here.
	h.hub.Broadcast(fileRoom(sess.ProjectID, filePath), hub.Event{Name: "fileLockRequested", Data: map[string]string{
		"filePath":        filePath,
		"projectId":       sess.ProjectID,
		"requestedBy":     requester.Username,
		"requesterUserId": sess.UserID,
	}})
}

func (h *Handler) handleGetPort(ctx context.Context, sess *Session) {
	port, err := h.mgr.PreviewPort(ctx, sess.ProjectID)
	if err != nil {
		slog.Error("Failed to get preview port", "error", err, "project_id", sess.ProjectID)
		sess.Client.Send(hub.Event{Name: "error", Data: map[string]string{"data": "failed to get port"}})
		return
	}
	// No sandbox yields a null port, not an error.
	sess.Client.Send(hub.Event{Name: "getPortSuccess", Data: map[string]any{"port": port}})
}

// cleanup runs the disconnect sweep. Every step is isolated: a failing
// step is logged and the remaining steps still run. Duplicate delivery is
// a no-op thanks to BeginCleanup.
func (h *Handler) cleanup(sess *Session) {
	if !sess.BeginCleanup() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("Cleaning up editor session", "user_id", sess.UserID, "project_id", sess.ProjectID)

	// Step 1: project room departure.
	if err := h.registry.LeaveProject(ctx, sess.ProjectID, sess.UserID); err != nil {
		slog.Error("Cleanup: failed to leave project", "error", err, "user_id", sess.UserID)
	}
	h.hub.Broadcast(sess.ProjectID, hub.Event{Name: "userLeftProject", Data: map[string]string{"userId": sess.UserID}})

	// Step 2: file room departures, driven by the reverse index.
	for _, filePath := range sess.FileRooms() {
		if err := h.registry.LeaveFile(ctx, sess.ProjectID, filePath, sess.UserID); err != nil {
			slog.Error("Cleanup: failed to leave file room", "error", err, "user_id", sess.UserID, "file_path", filePath)
		}
		h.hub.Broadcast(fileRoom(sess.ProjectID, filePath), hub.Event{Name: "userLeftFile", Data: map[string]string{
			"userId":   sess.UserID,
			"filePath": filePath,
		}})
	}

	// Step 3: release held locks. The reverse index covers locks this
	// connection acquired; the file-room pass additionally catches locks
	// transferred in from another holder, which the index cannot see.
	releasePaths := make(map[string]struct{})
	for _, p := range sess.Locks() {
		releasePaths[p] = struct{}{}
	}
	for _, p := range sess.FileRooms() {
		releasePaths[p] = struct{}{}
	}
	for filePath := range releasePaths {
		released, err := h.locks.Release(ctx, filePath, sess.UserID)
		if err != nil {
			slog.Error("Cleanup: failed to release lock", "error", err, "user_id", sess.UserID, "file_path", filePath)
			continue
		}
		if released {
			h.hub.Broadcast(fileRoom(sess.ProjectID, filePath), hub.Event{Name: "fileUnlocked", Data: map[string]string{"filePath": filePath}})
		}
	}

	// Step 4: detach from the hub and stop the write pump.
	h.hub.LeaveAll(sess.Client)
	sess.Client.Close()

	// Step 5: fire-and-forget persistence sync of the working tree.
	projectsync.Background(h.syncer, sess.ProjectID, h.projectPath(sess.ProjectID))
}
