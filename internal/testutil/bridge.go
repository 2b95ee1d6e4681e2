package testutil

import (
	"context"
	"sync"
)

// MemoryBridge is an in-memory cache bridge that counts its calls.
type MemoryBridge struct {
	// SaveErr fails every Save.
	SaveErr error
	// LoadErr fails every Load.
	LoadErr error

	mu      sync.Mutex
	entries map[string][]byte
	loads   int
	saves   int
}

// NewMemoryBridge returns an empty MemoryBridge.
func NewMemoryBridge() *MemoryBridge {
	return &MemoryBridge{entries: make(map[string][]byte)}
}

func entryKey(dir, key string) string {
	return dir + "\x00" + key
}

// Load implements cache.Bridge.
func (b *MemoryBridge) Load(_ context.Context, dir, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loads++
	if b.LoadErr != nil {
		return nil, false, b.LoadErr
	}
	data, ok := b.entries[entryKey(dir, key)]
	return data, ok, nil
}

// Save implements cache.Bridge.
func (b *MemoryBridge) Save(_ context.Context, dir, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves++
	if b.SaveErr != nil {
		return b.SaveErr
	}
	b.entries[entryKey(dir, key)] = append([]byte(nil), data...)
	return nil
}

// Put stores data directly, bypassing the counters.
func (b *MemoryBridge) Put(dir, key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entryKey(dir, key)] = data
}

// Get returns the stored data.
func (b *MemoryBridge) Get(dir, key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.entries[entryKey(dir, key)]
	return data, ok
}

// Loads returns how many times Load was called.
func (b *MemoryBridge) Loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

// Saves returns how many times Save was called.
func (b *MemoryBridge) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}
