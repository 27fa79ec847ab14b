package storage

import (
	"context"
	"sync"
)

// MemoryTier keeps cart payloads in process memory. It is the last
// resort tier: data does not survive a restart, but writes never
// fail.
type MemoryTier struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryTier returns an empty in-memory tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{data: make(map[string][]byte)}
}

func (t *MemoryTier) Kind() Kind {
	return KindMemory
}

func (t *MemoryTier) Probe(ctx context.Context) error {
	return nil
}

func (t *MemoryTier) Read(ctx context.Context, key string) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	data, ok := t.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (t *MemoryTier) Write(ctx context.Context, key string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	t.data[key] = stored
	return nil
}

func (t *MemoryTier) Remove(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.data, key)
	return nil
}
