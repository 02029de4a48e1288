// Package token is the source of every unguessable identifier the relay
// mints: peer identifiers and per-room delete tokens. All tokens are drawn
// independently from the platform CSPRNG and never reused.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
)

// TokenBytes is the raw entropy per token. 16 bytes = 128 bits, encoded to
// 22 URL-safe characters.
const TokenBytes = 16

// New returns a fresh opaque token. It panics if the CSPRNG fails, which on
// a healthy system never happens and on an unhealthy one must not be papered
// over with a predictable fallback.
func New() string {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic("token: csprng unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// Equal compares two tokens in constant time. Used for delete-token
// authorization, where a timing oracle would let a caller recover the token
// byte by byte.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
