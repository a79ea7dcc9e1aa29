package editor

import (
	"sync"

	"github.com/codeflow-dev/codeflow/internal/hub"
)

// Session is the per-connection state for one editor socket. Identity and
// project are fixed at authentication and never mutated afterwards; the
// mutable part is the reverse index of file rooms joined and locks taken,
// which makes disconnect cleanup O(membership) instead of a store-wide
// key scan.
type Session struct {
	UserID    string
	ProjectID string
	Client    *hub.Client

	mu        sync.Mutex
	fileRooms map[string]struct{}
	locksHeld map[string]struct{}
	cleaned   bool
}

// NewSession creates the session context for an authenticated connection.
func NewSession(userID, projectID string, client *hub.Client) *Session {
	return &Session{
		UserID:    userID,
		ProjectID: projectID,
		Client:    client,
		fileRooms: make(map[string]struct{}),
		locksHeld: make(map[string]struct{}),
	}
}

// TrackFileRoom records that this connection joined a file room.
func (s *Session) TrackFileRoom(filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileRooms[filePath] = struct{}{}
}

// UntrackFileRoom forgets a file room after an explicit leave.
func (s *Session) UntrackFileRoom(filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fileRooms, filePath)
}

// TrackLock records a lock this connection acquired.
func (s *Session) TrackLock(filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locksHeld[filePath] = struct{}{}
}

// UntrackLock forgets a lock after release or transfer away.
func (s *Session) UntrackLock(filePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locksHeld, filePath)
}

// FileRooms returns a snapshot of file rooms this connection joined.
func (s *Session) FileRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.fileRooms))
	for r := range s.fileRooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// Locks returns a snapshot of lock paths this connection acquired.
func (s *Session) Locks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	locks := make([]string, 0, len(s.locksHeld))
	for l := range s.locksHeld {
		locks = append(locks, l)
	}
	return locks
}

// BeginCleanup marks the session as cleaned up and reports whether this
// caller won. Disconnects can be delivered more than once (socket close
// plus heartbeat timeout); only the first delivery runs the sweep.
func (s *Session) BeginCleanup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaned {
		return false
	}
	s.cleaned = true
	return true
}
