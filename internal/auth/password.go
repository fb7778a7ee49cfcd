// Package auth implements credential storage, opaque session tokens and
// signed report share links.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. These are fixed by the stored-credential format:
// changing any of them invalidates every existing password hash, so a
// migration path is required before touching them.
const (
	saltLength = 16
	iterations = 10000
	keyLength  = 64
)

// HashPassword derives a storable "salt:hash" credential string using
// PBKDF2-SHA512 with a fresh random salt.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha512.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// VerifyPassword checks a password against a stored "salt:hash" string.
func VerifyPassword(password, stored string) (bool, error) {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("stored credential is not in salt:hash format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false, fmt.Errorf("stored salt is not valid hex: %w", err)
	}
	expected, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("stored hash is not valid hex: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha512.New)
	return hmac.Equal(key, expected), nil
}
