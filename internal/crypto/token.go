// Package crypto implements signature token generation and one-way hashing.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// TokenBytes is the amount of randomness in a raw signature token (256 bits).
const TokenBytes = 32

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewToken returns a fresh URL-safe raw token together with its hash.
func NewToken() (raw string, hash []byte, err error) {
	b, err := RandBytes(TokenBytes)
	if err != nil {
		return "", nil, err
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, HashToken(raw), nil
}

// HashToken returns the BLAKE2b-256 digest stored in place of a raw token.
func HashToken(raw string) []byte {
	h := blake2b.Sum256([]byte(raw))
	return h[:]
}

// ErrMalformedToken is returned by CheckTokenShape for input that could never have been issued.
var ErrMalformedToken = errors.New("malformed token")

// CheckTokenShape rejects raw tokens whose encoding or length does not match NewToken output.
func CheckTokenShape(raw string) error {
	if base64.RawURLEncoding.EncodedLen(TokenBytes) != len(raw) {
		return ErrMalformedToken
	}
	if _, err := base64.RawURLEncoding.DecodeString(raw); err != nil {
		return ErrMalformedToken
	}
	return nil
}
