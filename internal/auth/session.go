package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultSessionTTL is how long a login session stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

// tokenLength is 32 bytes, giving an opaque 256-bit session token.
const tokenLength = 32

// NewSessionToken generates an opaque random session token. The raw
// token goes to the client; only its hash is stored.
func NewSessionToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 of a session token, the form stored
// in the sessions table.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
