package configstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/imyashkale/hera/internal/models"
)

// entry is what the cache layers hold. TTL is checked against CachedAt on
// lookup, not by the layer itself.
type entry struct {
	CachedAt time.Time        `json:"cached_at"`
	Artifact *models.Artifact `json:"artifact"`
}

func (e *entry) fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CachedAt) < ttl
}

func encodeEntry(a *models.Artifact, now time.Time) ([]byte, error) {
	return json.Marshal(entry{CachedAt: now, Artifact: a})
}

func decodeEntry(data []byte) (*entry, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// PersistedCache is the process-external cache layer (Redis or local disk)
type PersistedCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// memoryLayer is a TinyLFU cache of encoded entries
type memoryLayer struct {
	mu   sync.RWMutex
	lfu  *cache.TinyLFU
	size int
	ttl  time.Duration
}

func newMemoryLayer(size int, ttl time.Duration) *memoryLayer {
	m := &memoryLayer{size: size, ttl: ttl}
	m.lfu = m.newLFU()
	return m
}

func (m *memoryLayer) newLFU() *cache.TinyLFU {
	lfu := cache.NewTinyLFU(m.size, m.ttl)
	lfu.UseRandomizedTTL(0)
	return lfu
}

func (m *memoryLayer) get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lfu.Get(key)
}

func (m *memoryLayer) set(key string, data []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.lfu.Set(key, data)
}

func (m *memoryLayer) del(key string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.lfu.Del(key)
}

// reset drops every entry. TinyLFU cannot be flushed, so it is replaced.
func (m *memoryLayer) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lfu = m.newLFU()
}
