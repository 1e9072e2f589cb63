// Package token generates API tokens and maps presented tokens to the user
// identity they authenticate.
package token //nolint:revive // intentional: does not conflict at import path level

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenBytes is the number of random bytes in a generated token.
const TokenBytes = 32

// Generate creates a random token of TokenBytes bytes, hex encoded.
func Generate() string {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand.Read failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Mask shortens a token for display, keeping only its first four characters.
func Mask(tok string) string {
	if len(tok) <= 4 {
		return "****"
	}
	return tok[:4] + "****"
}
