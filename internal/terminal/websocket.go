package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codeflow-dev/codeflow/internal/auth"
	"github.com/codeflow-dev/codeflow/internal/sandbox"
)

// WebSocketHandler handles WebSocket-based terminal sessions. Each
// connection ensures the project sandbox is running, opens a shell inside
// it, and pumps bytes both ways until either side closes. Disconnect
// tears down only the shell attachment; the sandbox stays up.
type WebSocketHandler struct {
	authn         *auth.Authenticator
	mgr           sandbox.Manager
	sm            *SessionManager
	projectsDir   string
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(authn *auth.Authenticator, mgr sandbox.Manager, sm *SessionManager, projectsDir, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		authn:         authn,
		mgr:           mgr,
		sm:            sm,
		projectsDir:   projectsDir,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsWriter adapts websocket.Conn to io.Writer.
// Uses context.Background() for writes since the WebSocket library handles
// its own connection state. The passed context is only for teardown.
type wsWriter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsWriter) Write(p []byte) (int, error) {
	if w.ctx.Err() != nil {
		return 0, w.ctx.Err()
	}

	if err := w.conn.Write(context.Background(), websocket.MessageBinary, p); err != nil {
		if w.ctx.Err() != nil {
			return 0, w.ctx.Err()
		}
		slog.Debug("WebSocket write error", "error", err)
		return 0, err
	}
	return len(p), nil
}

// wsMessage represents the terminal control message structure. Frames
// that do not parse as JSON are forwarded to the shell as raw bytes.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Cols    uint   `json:"cols,omitempty"`
	Rows    uint   `json:"rows,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authn.Identify(r)
	if err != nil {
		slog.Warn("Terminal connection rejected", "error", err, "ip", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		http.Error(w, "projectId is required", http.StatusBadRequest)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept terminal WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close terminal websocket", "error", closeErr, "user_id", userID)
		}
	}()

	connID := uuid.NewString()
	h.sm.Register(projectID, connID, ws)
	defer h.sm.Unregister(projectID, connID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	containerID, err := h.mgr.EnsureSandbox(ctx, projectID, filepath.Join(h.projectsDir, projectID))
	if err != nil {
		slog.Error("Failed to ensure sandbox", "error", err, "project_id", projectID)
		if err := h.writeJSON(ws, map[string]string{"error": "sandbox_not_ready"}); err != nil {
			slog.Debug("Failed to send sandbox_not_ready error", "error", err)
		}
		return
	}

	slog.Info("Attaching to sandbox", "container_id", containerID, "project_id", projectID, "user_id", userID)
	execID, shell, err := h.mgr.OpenShell(ctx, containerID)
	if err != nil {
		slog.Error("Failed to open shell", "error", err, "project_id", projectID)
		if err := h.writeJSON(ws, map[string]string{"error": "failed_to_open_shell"}); err != nil {
			slog.Debug("Failed to send failed_to_open_shell error", "error", err)
		}
		return
	}
	// Close only the shell attachment on disconnect, never the sandbox.
	defer func() {
		if closeErr := shell.Close(); closeErr != nil {
			slog.Debug("Failed to close shell stream", "error", closeErr, "project_id", projectID)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)

	// Input loop: WebSocket -> shell.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, shell, userID, execID)
	}()

	// Output loop: shell -> WebSocket.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, shell)
	}()

	wg.Wait()
	slog.Info("Terminal session ended", "user_id", userID, "project_id", projectID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Terminal origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, shell io.Writer, userID, execID string) {
	slog.Debug("Starting input loop", "user_id", userID)
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Terminal closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("Terminal read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// Fallback to raw data.
			if _, err := shell.Write(message); err != nil {
				slog.Error("Shell write error", "error", err)
				return
			}
			continue
		}

		switch msg.Type {
		case "data":
			if _, err := shell.Write([]byte(msg.Content)); err != nil {
				slog.Error("Shell stdin write error", "error", err)
				return
			}
		case "ping":
			if err := h.writeJSON(ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		case "resize":
			if err := h.mgr.ResizeShell(ctx, execID, msg.Cols, msg.Rows); err != nil {
				slog.Warn("Failed to resize", "error", err)
			}
		case "terminate":
			slog.Info("Terminal terminate requested", "user_id", userID)
			if err := h.writeJSON(ws, map[string]string{"type": "terminated"}); err != nil {
				slog.Debug("Failed to send terminated acknowledgment", "error", err)
			}
			return
		}
	}
}

func (h *WebSocketHandler) outputLoop(ctx context.Context, ws *websocket.Conn, shell io.Reader) {
	writer := &wsWriter{ws, ctx}
	_, err := io.Copy(writer, shell)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		slog.Warn("Shell output error", "error", err)
	}
}

func (h *WebSocketHandler) writeJSON(ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(context.Background(), websocket.MessageText, data)
}
