package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	defaultMaxEntries = 10000
	// evictFraction of resident entries is dropped, oldest expiry first,
	// when the map hits capacity.
	evictFraction = 10
)

// MemoryBackend is a bounded in-process realization of Backend. It is
// explicitly single-instance and non-authoritative: counters are not shared
// across processes, so production deployments require the Redis backend.
// Entries expire lazily on access; when the map is full, the oldest-expiry
// tenth of entries is evicted to keep residency bounded.
type MemoryBackend struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	maxEntries int
	now        func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithMaxEntries caps the number of resident entries.
func WithMaxEntries(n int) MemoryOption {
	return func(b *MemoryBackend) {
		if n > 0 {
			b.maxEntries = n
		}
	}
}

// WithMemoryClock overrides the time source, for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBackend) {
		b.now = now
	}
}

// NewMemory constructs a bounded in-memory store.
func NewMemory(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		entries:    make(map[string]*memoryEntry),
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.live(key)
	if e == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictIfFull(key)
	stored := make([]byte, len(value))
	copy(stored, value)
	b.entries[key] = &memoryEntry{value: stored, expiresAt: b.now().Add(ttl)}
	return nil
}

func (b *MemoryBackend) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.live(key)
	if e == nil {
		b.evictIfFull(key)
		// TTL anchors to the creating increment, matching Redis EXPIRE NX.
		e = &memoryEntry{expiresAt: b.now().Add(ttl)}
		b.entries[key] = e
	}

	count, _ := strconv.ParseInt(string(e.value), 10, 64)
	count++
	e.value = []byte(strconv.FormatInt(count, 10))
	return count, nil
}

// Len reports the number of resident entries, expired or not.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// live returns the entry for key if present and unexpired, deleting it
// otherwise. Callers must hold b.mu.
func (b *MemoryBackend) live(key string) *memoryEntry {
	e, ok := b.entries[key]
	if !ok {
		return nil
	}
	if !b.now().Before(e.expiresAt) {
		delete(b.entries, key)
		return nil
	}
	return e
}

// evictIfFull makes room for key when the map is at capacity: expired entries
// go first, then the oldest-expiry fraction of what remains. Callers must
// hold b.mu.
func (b *MemoryBackend) evictIfFull(key string) {
	if _, exists := b.entries[key]; exists || len(b.entries) < b.maxEntries {
		return
	}

	now := b.now()
	for k, e := range b.entries {
		if !now.Before(e.expiresAt) {
			delete(b.entries, k)
		}
	}
	if len(b.entries) < b.maxEntries {
		return
	}

	type expiry struct {
		key string
		at  time.Time
	}
	all := make([]expiry, 0, len(b.entries))
	for k, e := range b.entries {
		all = append(all, expiry{key: k, at: e.expiresAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	drop := len(all) / evictFraction
	if drop < 1 {
		drop = 1
	}
	for _, victim := range all[:drop] {
		delete(b.entries, victim.key)
	}
}
