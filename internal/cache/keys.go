package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ResultKey is where a merged analysis result is stored.
func ResultKey(hash string) string {
	return fmt.Sprintf("analysis:result:%s", hash)
}

// RateLimitKey is the per-API-key request counter.
func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// Fingerprint hashes the parts that make two analysis requests identical:
// normalized text, parameters (key order independent) and the caller's
// security context fields.
func Fingerprint(text string, params map[string]string, scope ...string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})

	keys := slices.Sorted(maps.Keys(params))
	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]string{k, params[k]})
	}
	enc, _ := json.Marshal(pairs)
	h.Write(enc)
	h.Write([]byte{0})

	h.Write([]byte(strings.Join(scope, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}
