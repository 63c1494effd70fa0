package tracking

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashPII normalizes a personally identifying value (trim, lower-case) and
// returns its hex SHA-256. Empty input yields an empty string.
func HashPII(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
