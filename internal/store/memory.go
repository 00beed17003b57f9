package store

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Memory is an in-process Backend backed by ristretto. Entries expire by TTL
// and may also be evicted once maxEntries is reached.
type Memory struct {
	rc *ristretto.Cache[string, []byte]
}

// NewMemory creates a Memory backend holding at most maxEntries values.
// If maxEntries is <= 0, it defaults to 10000.
func NewMemory(maxEntries int64) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}
	return &Memory{rc: rc}, nil
}

// Get returns a copy of the stored value or ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.rc.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

// Set stores a copy of value with cost 1. The write is visible to Get once
// Set returns.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !m.rc.SetWithTTL(key, bytes.Clone(value), 1, ttl) {
		return fmt.Errorf("memory cache rejected key %q", key)
	}
	m.rc.Wait()
	return nil
}

// Close stops ristretto's background goroutines.
func (m *Memory) Close() error {
	m.rc.Close()
	return nil
}
