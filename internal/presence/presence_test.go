package presence

import (
	"context"
	"testing"

	"github.com/codeflow-dev/codeflow/internal/domain"
	"github.com/codeflow-dev/codeflow/internal/store"
)

// stubDirectory resolves only the users it was seeded with.
type stubDirectory struct {
	users map[string]*domain.User
}

func (d *stubDirectory) Lookup(_ context.Context, userID string) (*domain.User, error) {
	return d.users[userID], nil
}

func (d *stubDirectory) Upsert(_ context.Context, user *domain.User) error {
	d.users[user.UserID] = user
	return nil
}

func (d *stubDirectory) Ping(context.Context) error { return nil }
func (d *stubDirectory) Close() error               { return nil }

func newTestRegistry() *Registry {
	dir := &stubDirectory{users: map[string]*domain.User{
		"alice": {UserID: "alice", Username: "Alice", AvatarURL: "https://example.com/alice.png"},
		"bob":   {UserID: "bob", Username: "Bob"},
	}}
	return NewRegistry(store.NewMemory(), dir)
}

func TestJoinProject_ReturnsMembership(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	users, err := r.JoinProject(ctx, "p1", "alice")
	if err != nil {
		t.Fatalf("JoinProject failed: %v", err)
	}
	if len(users) != 1 || users[0].Username != "Alice" {
		t.Fatalf("Expected membership [Alice], got %+v", users)
	}

	users, err = r.JoinProject(ctx, "p1", "bob")
	if err != nil {
		t.Fatalf("JoinProject failed: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("Expected 2 members after second join, got %d", len(users))
	}
}

func TestJoinProject_UnknownIdentityDegrades(t *testing.T) {
	r := newTestRegistry()

	users, err := r.JoinProject(context.Background(), "p1", "ghost")
	if err != nil {
		t.Fatalf("JoinProject failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("Expected 1 member, got %d", len(users))
	}
	if users[0].Username != "Unknown" {
		t.Errorf("Expected placeholder username Unknown, got %q", users[0].Username)
	}
	if users[0].UserID != "ghost" {
		t.Errorf("Expected placeholder to keep the identity, got %q", users[0].UserID)
	}
}

func TestLeaveProject_ExactRemoval(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	if _, err := r.JoinProject(ctx, "p1", "alice"); err != nil {
		t.Fatalf("JoinProject failed: %v", err)
	}
	if err := r.LeaveProject(ctx, "p1", "alice"); err != nil {
		t.Fatalf("LeaveProject failed: %v", err)
	}

	users, err := r.JoinProject(ctx, "p1", "bob")
	if err != nil {
		t.Fatalf("JoinProject failed: %v", err)
	}
	for _, u := range users {
		if u.UserID == "alice" {
			t.Error("alice still present after leave")
		}
	}

	// Duplicate leave must be a safe no-op.
	if err := r.LeaveProject(ctx, "p1", "alice"); err != nil {
		t.Errorf("Duplicate leave failed: %v", err)
	}
}

func TestFileRoomPresence(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	users, err := r.JoinFile(ctx, "p1", "/src/app.js", "alice")
	if err != nil {
		t.Fatalf("JoinFile failed: %v", err)
	}
	if len(users) != 1 || users[0].UserID != "alice" {
		t.Fatalf("Expected [alice], got %+v", users)
	}

	if err := r.LeaveFile(ctx, "p1", "/src/app.js", "alice"); err != nil {
		t.Fatalf("LeaveFile failed: %v", err)
	}

	users, err = r.JoinFile(ctx, "p1", "/src/app.js", "bob")
	if err != nil {
		t.Fatalf("JoinFile failed: %v", err)
	}
	if len(users) != 1 || users[0].UserID != "bob" {
		t.Errorf("Expected exactly [bob] after alice left, got %+v", users)
	}
}

func TestFileKey_ScopesByProjectAndPath(t *testing.T) {
	if FileKey("p1", "/src/app.js") == FileKey("p2", "/src/app.js") {
		t.Error("File keys must be scoped by project")
	}
	if FileKey("p1", "/a.js") == FileKey("p1", "/b.js") {
		t.Error("File keys must be scoped by path")
	}
}
