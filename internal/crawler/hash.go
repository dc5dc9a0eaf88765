package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SimilarityHash returns a stable hash of extracted content, used by stores
// to collapse duplicate pages served under different URLs. Whitespace runs
// and letter case do not affect the hash. Pages with no extracted content
// fall back to hashing the URL so they still get a stable identity.
func SimilarityHash(content, url string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	if normalized == "" {
		normalized = url
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
