package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/codeflow-dev/codeflow/internal/store"
)

func newTestManager() (*Manager, *store.MemoryStore) {
	s := store.NewMemory()
	return NewManager(s, 300*time.Second), s
}

func TestAcquire_Grant(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	granted, holder, err := m.Acquire(ctx, "/src/app.js", "alice")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !granted {
		t.Fatal("Expected lock to be granted")
	}
	if holder != "alice" {
		t.Errorf("Expected holder alice, got %q", holder)
	}
}

func TestAcquire_ContentionReturnsHolder(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	if _, _, err := m.Acquire(ctx, "/src/app.js", "alice"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	granted, holder, err := m.Acquire(ctx, "/src/app.js", "bob")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if granted {
		t.Fatal("Expected contention, not a grant")
	}
	if holder != "alice" {
		t.Errorf("Expected current holder alice, got %q", holder)
	}
}

func TestAcquire_ConcurrentSingleWinner(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	const attempts = 50
	var wg sync.WaitGroup
	grants := make(chan string, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", id)
			granted, _, err := m.Acquire(ctx, "/src/app.js", userID)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			if granted {
				grants <- userID
			}
		}(i)
	}
	wg.Wait()
	close(grants)

	winners := 0
	for range grants {
		winners++
	}
	if winners != 1 {
		t.Errorf("Expected exactly one grant under contention, got %d", winners)
	}
}

func TestTransfer(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	if _, _, err := m.Acquire(ctx, "/src/app.js", "alice"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := m.Transfer(ctx, "/src/app.js", "alice", "bob"); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	holder, err := m.Holder(ctx, "/src/app.js")
	if err != nil {
		t.Fatalf("Holder failed: %v", err)
	}
	if holder != "bob" {
		t.Errorf("Expected holder bob after transfer, got %q", holder)
	}
}

func TestTransfer_NonHolderRejected(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	if _, _, err := m.Acquire(ctx, "/src/app.js", "alice"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	err := m.Transfer(ctx, "/src/app.js", "mallory", "bob")
	if !errors.Is(err, ErrNotHolder) {
		t.Fatalf("Expected ErrNotHolder, got %v", err)
	}

	// Lock state must be unchanged.
	holder, _ := m.Holder(ctx, "/src/app.js")
	if holder != "alice" {
		t.Errorf("Expected holder alice after rejected transfer, got %q", holder)
	}
}

func TestTransfer_NoLock(t *testing.T) {
	m, _ := newTestManager()

	err := m.Transfer(context.Background(), "/src/app.js", "alice", "bob")
	if !errors.Is(err, ErrNoLock) {
		t.Errorf("Expected ErrNoLock, got %v", err)
	}
}

func TestRelease_OnlyHolder(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	if _, _, err := m.Acquire(ctx, "/src/app.js", "alice"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Non-holder release is a no-op.
	released, err := m.Release(ctx, "/src/app.js", "bob")
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released {
		t.Error("Expected non-holder release to be a no-op")
	}

	released, err = m.Release(ctx, "/src/app.js", "alice")
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !released {
		t.Error("Expected holder release to remove the lock")
	}

	// Releasing an already-released lock is a safe no-op.
	released, err = m.Release(ctx, "/src/app.js", "alice")
	if err != nil {
		t.Fatalf("Duplicate release failed: %v", err)
	}
	if released {
		t.Error("Expected duplicate release to be a no-op")
	}
}

func TestExpiry_FreshAcquireSucceeds(t *testing.T) {
	s := store.NewMemory()
	m := NewManager(s, 300*time.Second)
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	if _, _, err := m.Acquire(ctx, "/src/app.js", "alice"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Holder disconnects without releasing; the TTL window passes.
	now = now.Add(301 * time.Second)

	holder, err := m.Holder(ctx, "/src/app.js")
	if err != nil {
		t.Fatalf("Holder failed: %v", err)
	}
	if holder != "" {
		t.Fatalf("Expected expired lock to read as unlocked, got holder %q", holder)
	}

	granted, _, err := m.Acquire(ctx, "/src/app.js", "bob")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !granted {
		t.Error("Expected fresh acquire to succeed after expiry")
	}
}

func TestHolder_CorruptPayloadTreatedAsUnlocked(t *testing.T) {
	s := store.NewMemory()
	m := NewManager(s, 300*time.Second)
	ctx := context.Background()

	if err := s.Set(ctx, "file-lock:/src/app.js", "not-json{", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	holder, err := m.Holder(ctx, "/src/app.js")
	if err != nil {
		t.Fatalf("Holder should not fail on corruption: %v", err)
	}
	if holder != "" {
		t.Errorf("Expected corrupt payload to read as unlocked, got %q", holder)
	}
}
