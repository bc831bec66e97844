package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// KeyedHash returns the lowercase hex HMAC-SHA256 of payload under key.
func KeyedHash(key, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HashEqual compares two hex hashes in constant time.
func HashEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
