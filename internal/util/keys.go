package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyDigest returns a short stable digest of key, for logs that must not carry keys.
func KeyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
