package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryEntries is the default capacity of a MemoryStore.
const DefaultMemoryEntries = 16384

// MemoryOptions configures a MemoryStore.
type MemoryOptions struct {
	// MaxEntries bounds the number of unprotected entries. Least recently
	// used entries are evicted first. Defaults to DefaultMemoryEntries.
	MaxEntries int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// MemoryStore is an in-memory Store and Protector.
//
// Unprotected entries live in a bounded LRU and expire lazily. Protected
// entries are moved out of the LRU, so neither eviction nor expiry applies
// to them until they are released.
type MemoryStore struct {
	mu        sync.Mutex
	lru       *lru.Cache[string, memoryEntry]
	pinned    map[string]memoryEntry
	protected map[string]struct{}
	now       func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(optFns ...func(o *MemoryOptions)) (*MemoryStore, error) {
	opts := MemoryOptions{
		MaxEntries: DefaultMemoryEntries,
		Now:        time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMemoryEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l, err := lru.New[string, memoryEntry](opts.MaxEntries)
	if err != nil {
		return nil, err
	}

	return &MemoryStore{
		lru:       l,
		pinned:    make(map[string]memoryEntry),
		protected: make(map[string]struct{}),
		now:       opts.Now,
	}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key, true)
	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return e.value, true
}

// Contains implements Store.
func (s *MemoryStore) Contains(_ context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.lookup(key, false)
	return ok
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}

	copied := make([]byte, len(value))
	copy(copied, value)
	e := memoryEntry{value: copied, expiresAt: expiryAt(s.now(), ttl)}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.protected[key]; ok {
		s.lru.Remove(key)
		s.pinned[key] = e
		return nil
	}
	s.lru.Add(key, e)
	return nil
}

// RemoveKeysWithPrefix implements Store.
func (s *MemoryStore) RemoveKeysWithPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.lru.Remove(key)
		}
	}
	for key := range s.pinned {
		if strings.HasPrefix(key, prefix) {
			delete(s.pinned, key)
		}
	}
	return nil
}

// Protect implements Protector.
func (s *MemoryStore) Protect(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, key := range keys {
		s.protected[key] = struct{}{}
		if e, ok := s.lru.Peek(key); ok {
			s.lru.Remove(key)
			if !expired(now, e.expiresAt) {
				s.pinned[key] = e
			}
		}
	}
}

// Release implements Protector.
func (s *MemoryStore) Release(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, key := range keys {
		delete(s.protected, key)
		e, ok := s.pinned[key]
		if !ok {
			continue
		}
		delete(s.pinned, key)
		if !expired(now, e.expiresAt) {
			s.lru.Add(key, e)
		}
	}
}

// IsProtected implements Protector.
func (s *MemoryStore) IsProtected(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.protected[key]
	return ok
}

// EvictExpired drops every expired unprotected entry and returns how many
// were removed.
func (s *MemoryStore) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, key := range s.lru.Keys() {
		if e, ok := s.lru.Peek(key); ok && expired(now, e.expiresAt) {
			s.lru.Remove(key)
			n++
		}
	}
	return n
}

// Stats returns the store counters.
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Entries: s.lru.Len() + len(s.pinned),
		Pinned:  len(s.pinned),
	}
}

// lookup must be called with s.mu held.
func (s *MemoryStore) lookup(key string, touch bool) (memoryEntry, bool) {
	if e, ok := s.pinned[key]; ok {
		return e, true
	}

	var (
		e  memoryEntry
		ok bool
	)
	if touch {
		e, ok = s.lru.Get(key)
	} else {
		e, ok = s.lru.Peek(key)
	}
	if !ok {
		return memoryEntry{}, false
	}
	if expired(s.now(), e.expiresAt) {
		s.lru.Remove(key)
		return memoryEntry{}, false
	}
	return e, true
}
