// Package directory provides identity display-metadata lookup. Identities
// are issued elsewhere; this is the narrow read side the presence registry
// consults when rendering room membership.
package directory

import (
	"context"

	"github.com/codeflow-dev/codeflow/internal/domain"
)

// Directory resolves an identity to its display metadata.
type Directory interface {
	// Lookup returns the user record for userID, or nil if unknown.
	Lookup(ctx context.Context, userID string) (*domain.User, error)

	// Upsert creates or updates a user record.
	Upsert(ctx context.Context, user *domain.User) error

	// Ping verifies directory connectivity.
	Ping(ctx context.Context) error

	// Close closes the directory connection.
	Close() error
}

// Resolve looks up userID and degrades to a placeholder record on error
// or when the identity is unknown. It never fails.
func Resolve(ctx context.Context, d Directory, userID string) *domain.User {
	user, err := d.Lookup(ctx, userID)
	if err != nil || user == nil {
		return domain.Placeholder(userID)
	}
	return user
}
