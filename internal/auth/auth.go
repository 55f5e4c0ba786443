// Package auth provides password hashing for operator accounts.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashPassword returns a salted SHA-256 hash in "sha256$salt$digest" form.
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return encode(hex.EncodeToString(salt), password), nil
}

// VerifyPassword reports whether password matches the encoded hash.
func VerifyPassword(encoded, password string) bool {
	parts := strings.SplitN(encoded, "$", 3)
	if len(parts) != 3 || parts[0] != "sha256" {
		return false
	}
	expected := encode(parts[1], password)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(encoded)) == 1
}

func encode(saltHex, password string) string {
	digest := sha256.Sum256([]byte(saltHex + ":" + password))
	return fmt.Sprintf("sha256$%s$%s", saltHex, hex.EncodeToString(digest[:]))
}
