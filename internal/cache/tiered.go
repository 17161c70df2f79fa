package cache

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Tiered is a bounded in-process LRU with per-entry TTL in front of an
// optional shared Cache. Remote failures are logged and treated as misses.
type Tiered struct {
	local  *expirable.LRU[string, []byte]
	remote Cache
	ttl    time.Duration
}

// NewTiered creates a Tiered cache holding at most capacity entries locally.
// remote may be nil.
func NewTiered(capacity int, ttl time.Duration, remote Cache) *Tiered {
	if capacity <= 0 {
		capacity = 1
	}
	return &Tiered{
		local:  expirable.NewLRU[string, []byte](capacity, nil, ttl),
		remote: remote,
		ttl:    ttl,
	}
}

// Get returns a copy of the stored value.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := t.local.Get(key); ok {
		return bytes.Clone(v), true
	}
	if t.remote == nil {
		return nil, false
	}

	v, ok, err := t.remote.Get(ctx, key)
	if err != nil {
		slog.Warn("remote cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	t.local.Add(key, bytes.Clone(v))
	return v, true
}

// Set stores a copy of value in both tiers.
func (t *Tiered) Set(ctx context.Context, key string, value []byte) {
	t.local.Add(key, bytes.Clone(value))
	if t.remote == nil {
		return
	}
	if err := t.remote.Set(ctx, key, value, t.ttl); err != nil {
		slog.Warn("remote cache set failed", "key", key, "error", err)
	}
}

// Delete removes key from both tiers.
func (t *Tiered) Delete(ctx context.Context, key string) {
	t.local.Remove(key)
	if t.remote == nil {
		return
	}
	if err := t.remote.Delete(ctx, key); err != nil {
		slog.Warn("remote cache delete failed", "key", key, "error", err)
	}
}

// Len is the number of live local entries.
func (t *Tiered) Len() int {
	return t.local.Len()
}
