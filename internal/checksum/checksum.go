// Package checksum derives content-addressed component keys.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the length of a hex-encoded key.
const Size = sha256.Size * 2

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Valid reports whether key looks like a value produced by Sum.
func Valid(key string) bool {
	if len(key) != Size {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
