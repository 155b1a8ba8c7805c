package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Checksum is a 32-byte client code hash.
type Checksum [32]byte

// ParseChecksum decodes a 64-character hex string.
func ParseChecksum(s string) (Checksum, error) {
	var c Checksum
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("decode checksum: %w", err)
	}
	if len(b) != len(c) {
		return c, fmt.Errorf("checksum has %d bytes, want %d", len(b), len(c))
	}
	copy(c[:], b)
	return c, nil
}

func (c Checksum) String() string { return hex.EncodeToString(c[:]) }

// ChecksumCache maps client code checksums to client types. Each key is
// written once and then only read; concurrent misses for one key share a
// single lookup.
type ChecksumCache struct {
	mu    sync.RWMutex
	types map[Checksum]string
	group singleflight.Group
}

func NewChecksumCache() *ChecksumCache {
	return &ChecksumCache{types: make(map[Checksum]string)}
}

func (c *ChecksumCache) Get(key Checksum) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.types[key]
	return v, ok
}

// Resolve returns the cached value for key or fetches and stores it.
// Fetch errors are not cached.
func (c *ChecksumCache) Resolve(ctx context.Context, key Checksum, fetch func(ctx context.Context, key Checksum) (string, error)) (string, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fetch(ctx, key)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if existing, ok := c.types[key]; ok {
			return existing, nil
		}
		c.types[key] = v
		return v, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve client type for %s: %w", key, err)
	}
	return v.(string), nil
}

func (c *ChecksumCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}
