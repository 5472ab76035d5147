package cache

import (
	"container/list"
	"context"
	"sync"
)

const DefaultMaxEntries = 4096

// Backend is a byte key-value store. Entries have no TTL.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// LRU is an in-process Backend bounded by entry count.
type LRU struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
}

type lruEntry struct {
	key   string
	value []byte
}

func NewLRU(maxEntries int) *LRU {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	return &LRU{
		entries:    make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

func (c *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}

	entry, ok := elem.Value.(*lruEntry)
	if !ok {
		return nil, false, nil
	}

	c.order.MoveToFront(elem)

	return entry.value, true, nil
}

func (c *LRU) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry, castOk := elem.Value.(*lruEntry)
		if !castOk {
			return nil
		}

		entry.value = value
		c.order.MoveToFront(elem)

		return nil
	}

	elem := c.order.PushFront(&lruEntry{
		key:   key,
		value: value,
	})
	c.entries[key] = elem

	c.enforceSizeLimitLocked()

	return nil
}

func (c *LRU) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeElement(elem)
	}

	return nil
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

func (c *LRU) enforceSizeLimitLocked() {
	for len(c.entries) > c.maxEntries {
		elem := c.order.Back()
		if elem == nil {
			return
		}
		c.removeElement(elem)
	}
}

func (c *LRU) removeElement(elem *list.Element) {
	entry, ok := elem.Value.(*lruEntry)
	if !ok {
		return
	}

	delete(c.entries, entry.key)
	c.order.Remove(elem)
}
