// Package domain contains core domain types for the CodeFlow backend.
package domain

// User is the display metadata for an authenticated identity, resolved
// from the identity directory.
type User struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

// Placeholder returns the degraded display record used when the identity
// directory cannot resolve an identity. Room joins must not fail on a
// lookup error, so callers substitute this instead of propagating it.
func Placeholder(userID string) *User {
	return &User{
		UserID:   userID,
		Username: "Unknown",
	}
}
