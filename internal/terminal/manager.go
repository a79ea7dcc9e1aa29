// Package terminal provides the WebSocket terminal bridge into project
// sandboxes.
package terminal

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks active terminal WebSocket connections per project.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for a project and connection ID.
func (m *SessionManager) GetActive(projectID, connID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if conns, ok := m.active[projectID]; ok {
		return conns[connID]
	}
	return nil
}

// Register adds a terminal connection for a project. A stale connection
// under the same ID is closed first.
func (m *SessionManager) Register(projectID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[projectID]; !exists {
		m.active[projectID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[projectID][connID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[projectID][connID] = conn
	slog.Info("Terminal session registered", "project_id", projectID, "conn_id", connID)
}

// Unregister removes a terminal connection for a project.
func (m *SessionManager) Unregister(projectID, connID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[projectID]; ok {
		if current, exists := conns[connID]; exists && current == conn {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(m.active, projectID)
			}
			slog.Info("Terminal session unregistered", "project_id", projectID, "conn_id", connID)
		}
	}
}

// CloseProject forcefully terminates all terminal connections for a
// project, for example when its sandbox is being torn down.
func (m *SessionManager) CloseProject(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.active[projectID]
	if !ok {
		return
	}

	for id, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("Terminal session closed", "project_id", projectID, "conn_id", id)
	}
	delete(m.active, projectID)
}
