// Package auth resolves a connection credential into an authenticated
// identity. Token issuance is owned by the auth service; this package only
// verifies tokens it is handed.
package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

const tokenCookieName = "token"

var (
	// ErrNoCredential indicates the request carried no token at all.
	ErrNoCredential = errors.New("auth: no credential presented")

	// ErrInvalidCredential indicates the token failed verification.
	ErrInvalidCredential = errors.New("auth: invalid credential")
)

// Claims is the JWT claims shape issued by the auth service.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Authenticator verifies connection credentials.
type Authenticator struct {
	secret []byte
}

// New creates an Authenticator with the given HMAC secret.
func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Identify extracts and verifies the credential on an incoming connection
// request and returns the authenticated user ID. The token is read from
// the "token" cookie, falling back to a "token" query parameter for
// clients that cannot send cookies cross-origin.
func (a *Authenticator) Identify(r *http.Request) (string, error) {
	token := ""
	if c, err := r.Cookie(tokenCookieName); err == nil {
		token = c.Value
	}
	if token == "" {
		token = r.URL.Query().Get(tokenCookieName)
	}
	if token == "" {
		return "", ErrNoCredential
	}
	return a.Verify(token)
}

// Verify checks a raw token string and returns the user ID it asserts.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", ErrInvalidCredential
	}
	return claims.UserID, nil
}
