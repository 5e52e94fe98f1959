package beacon

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenLength is the hex-encoded length of a beacon token (128 random bits).
const TokenLength = 32

// NewToken returns a cryptographically random beacon token: 16 bytes from
// the system CSPRNG, lowercase hex. The token doubles as the lookup key and
// the capability embedded in email HTML, so it must never be predictable.
// Collisions are not checked here; the store's unique constraint is the
// backstop.
func NewToken() string {
	b := make([]byte, TokenLength/2)
	if _, err := rand.Read(b); err != nil {
		// Entropy source exhaustion is not a recoverable condition.
		panic("beacon: entropy source unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// ValidToken reports whether s has the exact shape of a beacon token:
// 32 lowercase hexadecimal characters. Anything else is rejected before it
// reaches the store.
func ValidToken(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
