package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// maxKeyLen bounds generated keys; longer ones are hashed.
const maxKeyLen = 200

// GenerateKey creates a cache key with prefix and ID.
func GenerateKey(prefix string, id string) string {
	return prefix + ":" + id
}

// GenerateKeyWithParams joins params after prefix. Empty params keep their
// slot so ("a", "", 1) and ("a", 1) never collide.
func GenerateKeyWithParams(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, param := range params {
		b.WriteByte(':')
		fmt.Fprintf(&b, "%v", param)
	}
	key := b.String()
	if len(key) > maxKeyLen {
		return prefix + ":h:" + HashKey(key)
	}
	return key
}

// HashKey returns the hex SHA-256 of key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
