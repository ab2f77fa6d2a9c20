package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
)

// Errors returned by signature verification. Callers on the
// authentication path must not leak which one occurred.
var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// VerifySignature checks an Ed25519 signature over the UTF-8 bytes of
// payload. Both the public key and the signature arrive base64 encoded,
// exactly as clients upload and submit them.
//
// There is deliberately no fast-path return between decoding and
// verification: the function's only outputs are nil or an error, so a
// caller cannot branch on partially verified state.
func VerifySignature(publicKeyB64, payload, signatureB64 string) error {
	publicKey, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}

	if !ed25519.Verify(ed25519.PublicKey(publicKey), []byte(payload), signature) {
		return ErrInvalidSignature
	}
	return nil
}
