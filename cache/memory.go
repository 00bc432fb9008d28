package cache

import (
	"container/list"
	"context"
	"sync"
)

// MemoryTier is the bounded in-process tier. It maps cache keys to futures,
// so an entry whose fetch is still outstanding dedupes same-process callers
// for free: they all wait on the one installed future. Eviction is
// least-recently-used. A rejected future stays in place until the writer
// removes it; eviction policy on failure belongs to the caller.
type MemoryTier struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type memoryEntry struct {
	key string
	fut *Future
}

// NewMemoryTier creates a memory tier holding at most capacity entries.
func NewMemoryTier(capacity int) *MemoryTier {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryTier{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Lookup returns the future stored under key, marking it most recently
// used. The hit/miss outcome is recorded on the active span.
func (m *MemoryTier) Lookup(ctx context.Context, key string) (*Future, bool) {
	m.mu.Lock()
	elem, ok := m.entries[key]
	if ok {
		m.order.MoveToFront(elem)
	}
	m.mu.Unlock()

	recordBool(ctx, attrCacheHit, ok)
	if !ok {
		return nil, false
	}
	return elem.Value.(*memoryEntry).fut, true
}

// Insert stores fut under key, evicting the least recently used entry if
// the tier is full. Inserting over an existing key replaces its future.
func (m *MemoryTier) Insert(key string, fut *Future) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		elem.Value.(*memoryEntry).fut = fut
		m.order.MoveToFront(elem)
		return
	}

	m.entries[key] = m.order.PushFront(&memoryEntry{key: key, fut: fut})
	if m.order.Len() > m.capacity {
		oldest := m.order.Back()
		if oldest != nil {
			m.order.Remove(oldest)
			delete(m.entries, oldest.Value.(*memoryEntry).key)
		}
	}
}

// Remove drops the entry for key, if any.
func (m *MemoryTier) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		m.order.Remove(elem)
		delete(m.entries, key)
	}
}

// Len returns the number of stored entries.
func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
