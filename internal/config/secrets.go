package config

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateToken returns a new URL-safe auth token from 24 random bytes
// (32 characters, unpadded base64url).
func GenerateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GeneratePIN returns a 6-digit admin PIN.
func GeneratePIN() (string, error) {
	var b strings.Builder
	for i := 0; i < 6; i++ {
		d := make([]byte, 1)
		if _, err := rand.Read(d); err != nil {
			return "", fmt.Errorf("generate pin: %w", err)
		}
		// Reject values that would bias the digit distribution.
		for d[0] >= 250 {
			if _, err := rand.Read(d); err != nil {
				return "", fmt.Errorf("generate pin: %w", err)
			}
		}
		b.WriteByte('0' + d[0]%10)
	}
	return b.String(), nil
}

// HashPIN returns the hex SHA-256 of a PIN for at-rest storage.
func HashPIN(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

// VerifyPIN compares a submitted PIN against the stored hash in constant
// time. An empty stored hash never matches.
func VerifyPIN(pin, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	submitted := HashPIN(pin)
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(storedHash)) == 1
}

// MaskToken renders a token safe for display: first four characters, then
// stars capped at sixteen. Short tokens are fully starred.
func MaskToken(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	n := len(token) - 4
	if n > 16 {
		n = 16
	}
	return token[:4] + strings.Repeat("*", n)
}

// MaskTokenEnds keeps the first and last four characters visible, the form
// the web dashboard uses.
func MaskTokenEnds(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", 20) + token[len(token)-4:]
}
