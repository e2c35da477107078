package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sha256Hex hashes parts joined by "|" and returns lowercase hex.
func Sha256Hex(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
