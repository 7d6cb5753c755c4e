package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenMatches reports whether the caller-supplied token satisfies the configured
// admin secret. A secret starting with "$2" is treated as a bcrypt hash, anything
// else is compared in constant time. An empty secret never matches.
func TokenMatches(secret, token string) bool {
	if secret == "" || token == "" {
		return false
	}

	if IsBcryptHash(secret) {
		return bcrypt.CompareHashAndPassword([]byte(secret), []byte(token)) == nil
	}

	return subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1
}

// IsBcryptHash reports whether secret looks like a bcrypt hash ($2a$, $2b$, $2y$).
func IsBcryptHash(secret string) bool {
	return strings.HasPrefix(secret, "$2a$") ||
		strings.HasPrefix(secret, "$2b$") ||
		strings.HasPrefix(secret, "$2y$")
}
