package directory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/codeflow-dev/codeflow/internal/domain"
)

func newTestDirectory(t *testing.T) *SQLiteDirectory {
	t.Helper()
	d, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return d
}

func TestSQLiteDirectory_LookupUnknown(t *testing.T) {
	d := newTestDirectory(t)

	user, err := d.Lookup(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if user != nil {
		t.Errorf("Expected nil for unknown user, got %+v", user)
	}
}

func TestSQLiteDirectory_UpsertAndLookup(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	if err := d.Upsert(ctx, &domain.User{
		UserID:    "u1",
		Username:  "alice",
		AvatarURL: "https://example.com/a.png",
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	user, err := d.Lookup(ctx, "u1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if user == nil || user.Username != "alice" {
		t.Fatalf("Expected alice, got %+v", user)
	}

	// Second upsert updates in place.
	if err := d.Upsert(ctx, &domain.User{UserID: "u1", Username: "alice2"}); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	user, _ = d.Lookup(ctx, "u1")
	if user.Username != "alice2" {
		t.Errorf("Expected updated username alice2, got %q", user.Username)
	}
}

func TestResolve_DegradesToPlaceholder(t *testing.T) {
	d := newTestDirectory(t)

	user := Resolve(context.Background(), d, "ghost")
	if user.UserID != "ghost" {
		t.Errorf("Expected placeholder to carry the user ID, got %q", user.UserID)
	}
	if user.Username != "Unknown" {
		t.Errorf("Expected placeholder username Unknown, got %q", user.Username)
	}
}
