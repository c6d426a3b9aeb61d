// Package cache stores non-streaming completion responses.
// Supports both local (in-memory) and Redis backends for multi-instance deployments.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Cache defines the interface for response storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the stored value, or nil, nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Close releases any resources held by the cache.
	Close() error
}

// credentialHeaders decide who may see a response. They are part of
// every key so one caller's answer is never served to another.
var credentialHeaders = []string{"Authorization", "Api-Key"}

// Key derives a cache key from the upstream URL, the credentials in
// headers and the exact request body. Bodies are encoded
// deterministically, so equal requests from the same caller share a key.
func Key(endpoint string, headers http.Header, body []byte) string {
	h := xxhash.New()
	_, _ = h.WriteString(endpoint)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(body)
	return strconv.FormatUint(h.Sum64(), 16) + "-" + credentialDigest(headers)
}

// credentialDigest is a SHA-256 prefix so a crafted key cannot collide
// with someone else's.
func credentialDigest(headers http.Header) string {
	d := sha256.New()
	for _, name := range credentialHeaders {
		for _, v := range headers.Values(name) {
			_, _ = d.Write([]byte(name))
			_, _ = d.Write([]byte{0})
			_, _ = d.Write([]byte(v))
			_, _ = d.Write([]byte{0})
		}
	}
	return hex.EncodeToString(d.Sum(nil)[:16])
}
