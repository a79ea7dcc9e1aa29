// Package lock implements the distributed single-writer file lock.
//
// A lock is one store record, file-lock:{filePath} -> {"userId":...}, with
// a TTL attached atomically at acquisition. Mutual exclusion across server
// instances relies entirely on the store's conditional set; no in-process
// mutex is involved. Expiry happens inside the store, so a missing record
// must always be read as "unlocked".
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeflow-dev/codeflow/internal/store"
)

const keyPrefix = "file-lock:"

// DefaultTTL is the lock lifetime when not renewed or released.
const DefaultTTL = 300 * time.Second

var (
	// ErrNoLock indicates a transfer was attempted on an unlocked path.
	ErrNoLock = errors.New("lock: no lock found")

	// ErrNotHolder indicates the caller does not hold the lock.
	ErrNotHolder = errors.New("lock: caller is not the holder")
)

type payload struct {
	UserID string `json:"userId"`
}

// Manager grants, transfers, and releases file locks.
type Manager struct {
	store store.Store
	ttl   time.Duration
}

// NewManager creates a lock manager over the given store.
func NewManager(s store.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: s, ttl: ttl}
}

func key(filePath string) string {
	return keyPrefix + filePath
}

// Acquire attempts to take the lock on filePath for userID. It returns
// granted=true on success. On contention it returns granted=false plus the
// current holder; contention is a normal outcome, not an error.
func (m *Manager) Acquire(ctx context.Context, filePath, userID string) (granted bool, holder string, err error) {
	value, err := json.Marshal(payload{UserID: userID})
	if err != nil {
		return false, "", fmt.Errorf("marshal lock payload: %w", err)
	}

	ok, err := m.store.SetNX(ctx, key(filePath), string(value), m.ttl)
	if err != nil {
		return false, "", fmt.Errorf("acquire lock on %s: %w", filePath, err)
	}
	if ok {
		return true, userID, nil
	}

	holder, err = m.Holder(ctx, filePath)
	if err != nil {
		return false, "", err
	}
	return false, holder, nil
}

// Transfer moves the lock on filePath from fromUserID to toUserID and
// resets the TTL. It fails with ErrNoLock if the path is unlocked and
// ErrNotHolder if fromUserID is not the current holder.
func (m *Manager) Transfer(ctx context.Context, filePath, fromUserID, toUserID string) error {
	holder, err := m.Holder(ctx, filePath)
	if err != nil {
		return err
	}
	if holder == "" {
		return ErrNoLock
	}
	if holder != fromUserID {
		return ErrNotHolder
	}

	value, err := json.Marshal(payload{UserID: toUserID})
	if err != nil {
		return fmt.Errorf("marshal lock payload: %w", err)
	}
	if err := m.store.Set(ctx, key(filePath), string(value), m.ttl); err != nil {
		return fmt.Errorf("transfer lock on %s: %w", filePath, err)
	}
	return nil
}

// Release removes the lock on filePath if userID is the current holder.
// It returns released=true only when a lock held by userID was removed;
// any other state is a safe no-op, so duplicate disconnect delivery never
// produces an error.
func (m *Manager) Release(ctx context.Context, filePath, userID string) (released bool, err error) {
	holder, err := m.Holder(ctx, filePath)
	if err != nil {
		return false, err
	}
	if holder != userID || holder == "" {
		return false, nil
	}
	if err := m.store.Del(ctx, key(filePath)); err != nil {
		return false, fmt.Errorf("release lock on %s: %w", filePath, err)
	}
	return true, nil
}

// Holder returns the current holder of the lock on filePath, or "" when
// unlocked. A malformed stored payload is logged and treated as unlocked
// rather than crashing the caller.
func (m *Manager) Holder(ctx context.Context, filePath string) (string, error) {
	raw, err := m.store.Get(ctx, key(filePath))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lock on %s: %w", filePath, err)
	}

	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.UserID == "" {
		slog.Error("Corrupt lock payload, treating as unlocked", "file_path", filePath, "raw", raw, "error", err)
		return "", nil
	}
	return p.UserID, nil
}
