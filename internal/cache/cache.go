package cache

import (
	"context"
	"sync"
	"time"
)

// SnapshotCache holds the last fetched payload per device, keyed by
// device id and payload kind. Widgets export from here, and a freshly
// bound widget can render cached data before its first fetch lands.
type SnapshotCache interface {
	Set(ctx context.Context, deviceID, kind string, payload []byte) error
	Get(ctx context.Context, deviceID, kind string) ([]byte, error)
	Delete(ctx context.Context, deviceID string) error
}

type memEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory is the in-process cache used when no redis address is
// configured.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memEntry
	ttl   time.Duration
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memory{items: make(map[string]memEntry), ttl: ttl}
}

func memKey(deviceID, kind string) string { return deviceID + ":" + kind }

func (m *Memory) Set(_ context.Context, deviceID, kind string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[memKey(deviceID, kind)] = memEntry{
		payload:   append([]byte(nil), payload...),
		expiresAt: time.Now().Add(m.ttl),
	}
	return nil
}

func (m *Memory) Get(_ context.Context, deviceID, kind string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[memKey(deviceID, kind)]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, nil
	}
	return append([]byte(nil), e.payload...), nil
}

func (m *Memory) Delete(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := deviceID + ":"
	for k := range m.items {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.items, k)
		}
	}
	return nil
}
