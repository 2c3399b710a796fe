package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// CodeDigits is the length of numeric verification codes.
const CodeDigits = 6

// NewLinkToken generates a cryptographically random 64-character hex token
// for link-style verification.
func NewLinkToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate link token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewCode generates a uniformly random zero-padded numeric code.
func NewCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

// IsLinkToken reports whether s has the shape of a link token: 64 lowercase
// hex characters.
func IsLinkToken(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
