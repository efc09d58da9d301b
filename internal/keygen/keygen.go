// Package keygen mints the shared secret agents present on every push.
package keygen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Prefix marks tokens from this generator so a pasted key is recognizable
// in configs and logs.
const Prefix = "dsk_"

// NewKey returns an opaque bearer token: the fixed prefix plus 256 bits
// from crypto/rand, hex encoded. Consumers only ever compare keys by exact
// byte equality.
func NewKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return Prefix + hex.EncodeToString(buf), nil
}

// Looks reports whether s has the shape of a generated key. It is a
// plausibility check for configuration surfaces, not a validity check.
func Looks(s string) bool {
	return strings.HasPrefix(s, Prefix) && len(s) == len(Prefix)+64
}
