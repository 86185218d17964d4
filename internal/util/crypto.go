package util

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
)

const tokenBytes = 32

// GenerateToken returns a fresh 256-bit hex token, suitable for use as the
// shared service token.
func GenerateToken() (string, error) {
	bytes := make([]byte, tokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// ConstantTimeEqual compares two strings without leaking where they differ.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
