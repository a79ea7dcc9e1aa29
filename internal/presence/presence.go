// Package presence tracks which identities are present in project and
// file rooms. Membership lives in the shared state store so it is
// consistent across server instances; display metadata is resolved
// through the identity directory at read time.
package presence

import (
	"context"
	"fmt"
	"sort"

	"github.com/codeflow-dev/codeflow/internal/directory"
	"github.com/codeflow-dev/codeflow/internal/domain"
	"github.com/codeflow-dev/codeflow/internal/store"
)

// ProjectKey returns the store key for a project room's presence set.
func ProjectKey(projectID string) string {
	return "project-users:" + projectID
}

// FileKey returns the store key for a file room's presence set.
func FileKey(projectID, filePath string) string {
	return fmt.Sprintf("file-users:%s:%s", projectID, filePath)
}

// Registry is the presence registry over the shared state store.
type Registry struct {
	store store.Store
	dir   directory.Directory
}

// NewRegistry creates a presence registry.
func NewRegistry(s store.Store, dir directory.Directory) *Registry {
	return &Registry{store: s, dir: dir}
}

// JoinProject adds userID to the project room's presence set and returns
// the full current membership so the joiner can render existing
// participants.
func (r *Registry) JoinProject(ctx context.Context, projectID, userID string) ([]*domain.User, error) {
	if err := r.store.SAdd(ctx, ProjectKey(projectID), userID); err != nil {
		return nil, fmt.Errorf("join project %s: %w", projectID, err)
	}
	return r.members(ctx, ProjectKey(projectID))
}

// LeaveProject removes userID from the project room's presence set.
// Removing an absent member is a safe no-op.
func (r *Registry) LeaveProject(ctx context.Context, projectID, userID string) error {
	if err := r.store.SRem(ctx, ProjectKey(projectID), userID); err != nil {
		return fmt.Errorf("leave project %s: %w", projectID, err)
	}
	return nil
}

// JoinFile adds userID to a file room's presence set and returns the full
// current membership.
func (r *Registry) JoinFile(ctx context.Context, projectID, filePath, userID string) ([]*domain.User, error) {
	if err := r.store.SAdd(ctx, FileKey(projectID, filePath), userID); err != nil {
		return nil, fmt.Errorf("join file %s:%s: %w", projectID, filePath, err)
	}
	return r.members(ctx, FileKey(projectID, filePath))
}

// LeaveFile removes userID from a file room's presence set.
func (r *Registry) LeaveFile(ctx context.Context, projectID, filePath, userID string) error {
	if err := r.store.SRem(ctx, FileKey(projectID, filePath), userID); err != nil {
		return fmt.Errorf("leave file %s:%s: %w", projectID, filePath, err)
	}
	return nil
}

// members reads a presence set and resolves each identity's display
// metadata. Failed lookups degrade to placeholders; the join itself never
// fails on directory errors.
func (r *Registry) members(ctx context.Context, key string) ([]*domain.User, error) {
	ids, err := r.store.SMembers(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read presence set %s: %w", key, err)
	}
	sort.Strings(ids)

	users := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		users = append(users, directory.Resolve(ctx, r.dir, id))
	}
	return users, nil
}
