package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHash fingerprints contract text for deduplication. Text is trimmed
// and lowercased before hashing, so texts differing only in case or
// surrounding whitespace share a hash. The result is 64 hex characters.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(content))))
	return hex.EncodeToString(sum[:])
}
