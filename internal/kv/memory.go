package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with lazy TTL eviction. It exists for
// tests, where several component instances share one store the way several
// server processes share one Redis, and local development without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry

	// Now is the clock; replace it in tests to step time instead of sleeping.
	Now func() time.Time
}

type memEntry struct {
	value  string
	set    map[string]struct{}
	hash   map[string]string
	expiry time.Time // zero means no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		Now:     time.Now,
	}
}

func (m *MemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sAdd(key, members...)
	return nil
}

func (m *MemoryStore) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sRem(key, members...)
	return nil
}

func (m *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.live(key)
	if entry == nil || entry.set == nil {
		return nil, nil
	}
	members := make([]string, 0, len(entry.set))
	for member := range entry.set {
		members = append(members, member)
	}
	return members, nil
}

func (m *MemoryStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.live(key)
	if entry == nil || entry.set == nil {
		return false, nil
	}
	_, ok := entry.set[member]
	return ok, nil
}

func (m *MemoryStore) SCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.live(key)
	if entry == nil || entry.set == nil {
		return 0, nil
	}
	return int64(len(entry.set)), nil
}

func (m *MemoryStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hSet(key, fields)
	return nil
}

func (m *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.live(key)
	if entry == nil || entry.hash == nil {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(entry.hash))
	for field, value := range entry.hash {
		out[field] = value
	}
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key, value, ttl)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.live(key)
	if entry == nil || entry.set != nil || entry.hash != nil {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

// ScanKeys supports the prefix patterns the presence engine uses
// ("typing:<conversation>:*"); only a trailing wildcard is understood.
func (m *MemoryStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	exact := prefix == pattern

	var keys []string
	for key := range m.entries {
		if m.live(key) == nil {
			continue
		}
		if exact {
			if key == pattern {
				keys = append(keys, key)
			}
		} else if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *MemoryStore) SMembersMany(ctx context.Context, keys []string) ([][]string, error) {
	out := make([][]string, len(keys))
	for i, key := range keys {
		members, err := m.SMembers(ctx, key)
		if err != nil {
			return nil, err
		}
		out[i] = members
	}
	return out, nil
}

func (m *MemoryStore) SContainsMany(ctx context.Context, key string, members []string) ([]bool, error) {
	out := make([]bool, len(members))
	for i, member := range members {
		ok, err := m.SIsMember(ctx, key, member)
		if err != nil {
			return nil, err
		}
		out[i] = ok
	}
	return out, nil
}

func (m *MemoryStore) HGetAllMany(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, key := range keys {
		hash, err := m.HGetAll(ctx, key)
		if err != nil {
			return nil, err
		}
		out[i] = hash
	}
	return out, nil
}

func (m *MemoryStore) GetMany(ctx context.Context, keys []string) ([]string, []bool, error) {
	values := make([]string, len(keys))
	found := make([]bool, len(keys))
	for i, key := range keys {
		value, ok, err := m.Get(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		values[i] = value
		found[i] = ok
	}
	return values, found, nil
}

func (m *MemoryStore) Batch(ctx context.Context, fn func(Writer)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&memWriter{store: m})
	return nil
}

// live returns the entry for key, evicting it first if its TTL elapsed.
// Callers hold the mutex.
func (m *MemoryStore) live(key string) *memEntry {
	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !entry.expiry.IsZero() && !m.Now().Before(entry.expiry) {
		delete(m.entries, key)
		return nil
	}
	return entry
}

func (m *MemoryStore) sAdd(key string, members ...string) {
	entry := m.live(key)
	if entry == nil || entry.set == nil {
		entry = &memEntry{set: make(map[string]struct{})}
		m.entries[key] = entry
	}
	for _, member := range members {
		entry.set[member] = struct{}{}
	}
}

func (m *MemoryStore) sRem(key string, members ...string) {
	entry := m.live(key)
	if entry == nil || entry.set == nil {
		return
	}
	for _, member := range members {
		delete(entry.set, member)
	}
	if len(entry.set) == 0 {
		delete(m.entries, key)
	}
}

func (m *MemoryStore) hSet(key string, fields map[string]string) {
	entry := m.live(key)
	if entry == nil || entry.hash == nil {
		entry = &memEntry{hash: make(map[string]string)}
		m.entries[key] = entry
	}
	for field, value := range fields {
		entry.hash[field] = value
	}
}

func (m *MemoryStore) set(key, value string, ttl time.Duration) {
	entry := &memEntry{value: value}
	if ttl > 0 {
		entry.expiry = m.Now().Add(ttl)
	}
	m.entries[key] = entry
}

func (m *MemoryStore) expire(key string, ttl time.Duration) {
	entry := m.live(key)
	if entry == nil {
		return
	}
	if ttl > 0 {
		entry.expiry = m.Now().Add(ttl)
	} else {
		entry.expiry = time.Time{}
	}
}

type memWriter struct {
	store *MemoryStore
}

func (w *memWriter) SAdd(key string, members ...string) { w.store.sAdd(key, members...) }
func (w *memWriter) SRem(key string, members ...string) { w.store.sRem(key, members...) }
func (w *memWriter) HSet(key string, fields map[string]string) {
	w.store.hSet(key, fields)
}
func (w *memWriter) Set(key, value string, ttl time.Duration) { w.store.set(key, value, ttl) }
func (w *memWriter) Del(keys ...string) {
	for _, key := range keys {
		delete(w.store.entries, key)
	}
}
func (w *memWriter) Expire(key string, ttl time.Duration) { w.store.expire(key, ttl) }
