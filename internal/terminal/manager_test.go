package terminal

import (
	"strconv"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestSessionManager_Register(t *testing.T) {
	sm := NewSessionManager()
	conn := &websocket.Conn{}
	projectID := "project123"
	connID := "conn-1"

	sm.Register(projectID, connID, conn)

	active := sm.GetActive(projectID, connID)
	if active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
}

func TestSessionManager_Unregister(t *testing.T) {
	sm := NewSessionManager()
	conn := &websocket.Conn{}
	projectID := "project123"
	connID := "conn-1"

	sm.Register(projectID, connID, conn)
	sm.Unregister(projectID, connID, conn)

	active := sm.GetActive(projectID, connID)
	if active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
}

func TestSessionManager_UnregisterStale(t *testing.T) {
	sm := NewSessionManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}
	projectID := "project123"

	sm.Register(projectID, "conn-1", conn1)

	// Another terminal on the same project stays active when a stale
	// unregister happens.
	sm.Register(projectID, "conn-2", conn2)

	sm.Unregister(projectID, "conn-1", conn1)

	active := sm.GetActive(projectID, "conn-2")
	if active != conn2 {
		t.Errorf("Expected connection %v, got %v", conn2, active)
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	sm := NewSessionManager()
	projectID := "concurrentProject"

	go func() {
		for i := 0; i < 1000; i++ {
			sm.Register(projectID, "conn-"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()

	go func() {
		for i := 0; i < 1000; i++ {
			sm.GetActive(projectID, "conn-"+strconv.Itoa(i))
		}
	}()

	time.Sleep(100 * time.Millisecond)
}
