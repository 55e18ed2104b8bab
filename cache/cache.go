// Package cache provides a small local read-through cache for immutable
// chain facts (block timestamps, historical prices), so repeated
// reconciliation runs do not re-fetch them over the network.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Cache is a pebble-backed key/value cache. A nil *Cache is valid and
// behaves as an always-miss cache, so callers never branch on presence.
type Cache struct {
	db     *pebble.DB
	logger *zap.Logger
}

// Open opens (or creates) the cache at path.
func Open(path string, logger *zap.Logger) (*Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache at %s: %w", path, err)
	}

	logger.Info("opened local cache", zap.String("path", path))
	return &Cache{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	value, closer, err := c.db.Get([]byte(key))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	out := make([]byte, len(value))
	copy(out, value)
	closer.Close()
	return out, true
}

// Set stores value under key. Failures are logged and dropped; the cache
// is advisory.
func (c *Cache) Set(key string, value []byte) {
	if c == nil {
		return
	}
	if err := c.db.Set([]byte(key), value, pebble.NoSync); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// GetJSON decodes a cached JSON value into out.
func (c *Cache) GetJSON(key string, out any) bool {
	raw, ok := c.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false
	}
	return true
}

// SetJSON stores a JSON-encoded value under key.
func (c *Cache) SetJSON(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(key, raw)
}
