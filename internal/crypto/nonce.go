// Package crypto provides the relay's signature and nonce utilities.
// The server verifies Ed25519 challenge signatures and generates login
// nonces; it performs no cryptography on message payloads.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NonceSize is the raw byte length of a login nonce. Hex encoding makes
// the wire form twice as long.
const NonceSize = 32

// NewNonce returns a fresh CSPRNG-backed nonce, hex encoded to 64
// characters.
func NewNonce() (string, error) {
	buf := make([]byte, NonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
