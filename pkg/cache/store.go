package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultTTL is how long an entry stays valid after it was stored
	DefaultTTL = 5 * time.Minute

	// DefaultMaxSize is the number of entries at which eviction kicks in
	DefaultMaxSize = 1000

	// evictionFraction is the share of entries removed by one eviction pass
	evictionFraction = 0.25
)

// Observer receives cache signals, typically to export them as metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	CacheHit(cache string)
	CacheMiss(cache string)
	CacheExpired(cache string)
	CacheEvicted(cache string, count int)
	CacheInvalidated(cache string, count int)
	CacheSize(cache string, size int)
}

// Options configures a Store
type Options struct {
	// Name identifies the store in stats and observer calls
	Name string

	// TTL is the maximum age of an entry. Expired entries are dropped lazily on read.
	TTL time.Duration

	// MaxSize bounds the number of entries
	MaxSize int

	// Clock is used for all timestamps. Defaults to the real clock.
	Clock clockwork.Clock

	// Observer is optional
	Observer Observer
}

// DefaultOptions returns options with the default TTL and size bound
func DefaultOptions(name string) Options {
	return Options{
		Name:    name,
		TTL:     DefaultTTL,
		MaxSize: DefaultMaxSize,
	}
}

// entry is a stored value with its bookkeeping
type entry[V any] struct {
	value          V
	storedAt       time.Time
	accessCount    int
	lastAccessedAt time.Time
}

// Store is a keyed, expiring, size-bounded store guarded by a single mutex.
// It is meant to be created once per value type and shared by every caller.
// Recency is tracked by the underlying LRU list, which is sized one above
// MaxSize so that only evictLocked ever removes entries for capacity.
type Store[V any] struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry[V]]

	name     string
	ttl      time.Duration
	maxSize  int
	clock    clockwork.Clock
	observer Observer

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// New creates a new store
func New[V any](opts Options) *Store[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Store[V]{
		entries:  newLRU[V](opts.MaxSize + 1),
		name:     opts.Name,
		ttl:      opts.TTL,
		maxSize:  opts.MaxSize,
		clock:    opts.Clock,
		observer: opts.Observer,
	}
}

func newLRU[V any](size int) *lru.Cache[string, *entry[V]] {
	entries, err := lru.New[string, *entry[V]](size)
	if err != nil {
		// only returned for a non-positive size
		panic(fmt.Sprintf("cache: invalid LRU size %d: %v", size, err))
	}
	return entries
}

// Name returns the store name
func (s *Store[V]) Name() string {
	return s.name
}

// Get returns the value stored under key. Expired entries are removed and
// reported as a miss.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries.Get(key)
	if !ok {
		s.misses++
		s.notify(func(o Observer) { o.CacheMiss(s.name) })
		return zero, false
	}

	now := s.clock.Now()
	if now.Sub(ent.storedAt) > s.ttl {
		s.entries.Remove(key)
		s.misses++
		s.expirations++
		size := s.entries.Len()
		s.notify(func(o Observer) {
			o.CacheExpired(s.name)
			o.CacheMiss(s.name)
			o.CacheSize(s.name, size)
		})
		return zero, false
	}

	ent.accessCount++
	ent.lastAccessedAt = now
	s.hits++
	s.notify(func(o Observer) { o.CacheHit(s.name) })

	return ent.value, true
}

// Set inserts or overwrites key. Inserting a new key while the store is at
// capacity evicts the least recently accessed quarter first.
func (s *Store[V]) Set(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.entries.Contains(key) && s.entries.Len() >= s.maxSize {
		s.evictLocked()
	}

	now := s.clock.Now()
	s.entries.Add(key, &entry[V]{
		value:          value,
		storedAt:       now,
		accessCount:    1,
		lastAccessedAt: now,
	})

	size := s.entries.Len()
	s.notify(func(o Observer) { o.CacheSize(s.name, size) })
}

// Invalidate removes key if present
func (s *Store[V]) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.entries.Remove(key) {
		return
	}

	size := s.entries.Len()
	s.notify(func(o Observer) {
		o.CacheInvalidated(s.name, 1)
		o.CacheSize(s.name, size)
	})
}

// InvalidatePattern removes every entry whose key contains substr and
// returns how many were removed. An empty substr matches nothing.
func (s *Store[V]) InvalidatePattern(substr string) int {
	if substr == "" {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range s.entries.Keys() {
		if strings.Contains(key, substr) && s.entries.Remove(key) {
			removed++
		}
	}

	if removed > 0 {
		size := s.entries.Len()
		s.notify(func(o Observer) {
			o.CacheInvalidated(s.name, removed)
			o.CacheSize(s.name, size)
		})
	}

	return removed
}

// Clear removes all entries
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.entries.Len()
	s.entries.Purge()

	s.notify(func(o Observer) {
		if removed > 0 {
			o.CacheInvalidated(s.name, removed)
		}
		o.CacheSize(s.name, 0)
	})
}

// Len returns the current number of entries, expired ones included
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Stats returns a snapshot for diagnostics. It does not change recency.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	keys := s.entries.Keys()
	stats := Stats{
		Name:        s.name,
		Size:        len(keys),
		MaxSize:     s.maxSize,
		TTL:         s.ttl,
		Hits:        s.hits,
		Misses:      s.misses,
		Evictions:   s.evictions,
		Expirations: s.expirations,
		Entries:     make([]EntryStats, 0, len(keys)),
	}

	for _, key := range keys {
		ent, ok := s.entries.Peek(key)
		if !ok {
			continue
		}
		stats.Entries = append(stats.Entries, EntryStats{
			Key:            key,
			Age:            now.Sub(ent.storedAt),
			AccessCount:    ent.accessCount,
			LastAccessedAt: ent.lastAccessedAt,
		})
	}
	sort.Slice(stats.Entries, func(i, j int) bool {
		return stats.Entries[i].Key < stats.Entries[j].Key
	})

	return stats
}

// evictLocked drops the least recently accessed 25% of entries (at least one).
// Must be called with the lock held.
func (s *Store[V]) evictLocked() {
	size := s.entries.Len()
	if size == 0 {
		return
	}

	count := int(float64(size) * evictionFraction)
	if count < 1 {
		count = 1
	}

	evicted := 0
	for evicted < count {
		if _, _, ok := s.entries.RemoveOldest(); !ok {
			break
		}
		evicted++
	}
	s.evictions += uint64(evicted)

	s.notify(func(o Observer) { o.CacheEvicted(s.name, evicted) })
}

func (s *Store[V]) notify(fn func(Observer)) {
	if s.observer != nil {
		fn(s.observer)
	}
}
