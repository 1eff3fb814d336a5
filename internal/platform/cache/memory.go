package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// entry is a stored value with its absolute expiry (zero = never)
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process LRU store with per-entry TTL.
// Expired entries are treated as absent by Get even before they are reaped.
type MemoryStore struct {
	maxSize int
	items   map[string]*list.Element
	lru     *list.List
	mu      sync.Mutex
	now     func() time.Time

	stopCh    chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithReapInterval starts a background goroutine removing expired entries.
func WithReapInterval(interval time.Duration) MemoryOption {
	return func(m *MemoryStore) {
		if interval > 0 {
			go m.reap(interval)
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

// NewMemoryStore creates a store holding at most maxSize entries.
func NewMemoryStore(maxSize int, opts ...MemoryOption) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}

	m := &MemoryStore{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get retrieves a value, moving it to the front of the LRU list
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	element, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}

	e := element.Value.(*entry)
	if e.expired(m.now()) {
		m.remove(key)
		return nil, ErrNotFound
	}

	m.lru.MoveToFront(element)
	return e.value, nil
}

// Set stores a value with TTL, evicting the least recently used entry when full
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	if element, ok := m.items[key]; ok {
		e := element.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		m.lru.MoveToFront(element)
		return nil
	}

	element := m.lru.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	m.items[key] = element

	if m.lru.Len() > m.maxSize {
		if oldest := m.lru.Back(); oldest != nil {
			m.remove(oldest.Value.(*entry).key)
		}
	}
	return nil
}

// Delete removes a key
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.remove(key)
	return nil
}

// Close stops the reaper, if any
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.stopCh) })
	return nil
}

// Len returns the number of physically stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// remove deletes an entry (caller must hold lock)
func (m *MemoryStore) remove(key string) {
	if element, ok := m.items[key]; ok {
		m.lru.Remove(element)
		delete(m.items, key)
	}
}

func (m *MemoryStore) reap(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapExpired()
		case <-m.stopCh:
			return
		}
	}
}

// reapExpired removes every expired entry
func (m *MemoryStore) reapExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, element := range m.items {
		if element.Value.(*entry).expired(now) {
			m.remove(key)
			removed++
		}
	}
	return removed
}
