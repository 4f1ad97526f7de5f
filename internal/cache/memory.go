package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore implements an in-memory cache with LRU capacity eviction
// and TTL expiry. Expired entries are treated as misses on Get (lazy
// expiry) and swept opportunistically by a background ticker.
type MemoryStore struct {
	mu sync.Mutex

	data    map[string]*list.Element
	recency *list.List // front = most recently used

	maxEntries    int
	defaultTTL    time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

type memoryEntry struct {
	key        string
	value      []byte
	expiration int64 // unix nano; 0 means no expiry
}

// MemoryStoreConfig holds configuration for MemoryStore.
type MemoryStoreConfig struct {
	MaxEntries      int           // maximum number of entries (default: 1000)
	DefaultTTL      time.Duration // default TTL (default: 10 minutes)
	CleanupInterval time.Duration // sweep interval (default: 1 minute)
}

// DefaultMemoryStoreConfig returns sensible defaults.
func DefaultMemoryStoreConfig() MemoryStoreConfig {
	return MemoryStoreConfig{
		MaxEntries:      1000,
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	s := &MemoryStore{
		data:        make(map[string]*list.Element),
		recency:     list.New(),
		maxEntries:  cfg.MaxEntries,
		defaultTTL:  cfg.DefaultTTL,
		stopCleanup: make(chan struct{}),
	}

	s.cleanupTicker = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.sweepExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// sweepExpired removes all expired entries.
func (s *MemoryStore) sweepExpired() {
	now := time.Now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	var next *list.Element
	for el := s.recency.Front(); el != nil; el = next {
		next = el.Next()
		entry := el.Value.(*memoryEntry)
		if entry.expiration > 0 && entry.expiration <= now {
			s.removeElement(el)
		}
	}
}

// Get retrieves a value and refreshes its recency. Expired entries are
// removed and reported as misses even if the sweeper has not reached
// them yet.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	el, ok := s.data[key]
	if !ok {
		s.mu.Unlock()
		s.misses.Add(1)
		return nil, nil
	}

	entry := el.Value.(*memoryEntry)
	if entry.expiration > 0 && entry.expiration <= time.Now().UnixNano() {
		s.removeElement(el)
		s.mu.Unlock()
		s.misses.Add(1)
		return nil, nil
	}

	s.recency.MoveToFront(el)
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	s.mu.Unlock()

	s.hits.Add(1)
	return value, nil
}

// Set stores a value, starting its TTL clock at insertion. When the
// store is over capacity, least-recently-used entries are evicted.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	expiration := time.Now().Add(ttl).UnixNano()

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.data[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = valueCopy
		entry.expiration = expiration
		s.recency.MoveToFront(el)
	} else {
		el := s.recency.PushFront(&memoryEntry{
			key:        key,
			value:      valueCopy,
			expiration: expiration,
		})
		s.data[key] = el
	}

	for len(s.data) > s.maxEntries {
		oldest := s.recency.Back()
		if oldest == nil {
			break
		}
		s.removeElement(oldest)
	}

	s.sets.Add(1)
	return nil
}

// Delete removes a key from the store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.data[key]; ok {
		s.removeElement(el)
	}
	return nil
}

// removeElement must be called with the lock held.
func (s *MemoryStore) removeElement(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	s.recency.Remove(el)
	delete(s.data, entry.key)
}

// Ping always returns nil for the memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the sweeper goroutine.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.cleanupTicker.Stop()
		close(s.stopCleanup)
	})
	return nil
}

// Stats returns cache statistics.
func (s *MemoryStore) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    s.sets.Load(),
		HitRate: hitRate(hits, misses),
	}
}

// Len returns the number of entries currently held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
