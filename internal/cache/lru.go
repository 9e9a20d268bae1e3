package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is a thread-safe LRU profile store with TTL support. Used as
// the community tier cache; profiles for inactive users age out either
// by TTL or by eviction when capacity is reached.
type LRUCache struct {
	mu       sync.RWMutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counterEntry
}

type cacheEntry struct {
	key       string
	profile   domain.UserProfile
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
	}
}

// GetProfile returns a copy of the stored profile, or nil, nil when the
// user has no live entry.
func (c *LRUCache) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[userID]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return copyProfile(&entry.profile), nil
}

// SetProfile stores a profile with TTL.
func (c *LRUCache) SetProfile(ctx context.Context, userID string, profile *domain.UserProfile, ttl time.Duration) error {
	if userID == "" {
		return fmt.Errorf("userID is required")
	}
	if profile == nil {
		return fmt.Errorf("profile is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[userID]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.profile = *copyProfile(profile)
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	entry := &cacheEntry{
		key:       userID,
		profile:   *copyProfile(profile),
		expiresAt: time.Now().Add(ttl),
	}
	elem := c.order.PushFront(entry)
	c.items[userID] = elem

	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}

	return nil
}

// IncrementCounter atomically increments a windowed counter. The window
// starts on the first increment and the counter resets once it lapses.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("key is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry, ok := c.counters[key]

	if !ok || now.After(entry.expiresAt) {
		c.counters[key] = &counterEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*counterEntry)
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func (c *LRUCache) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

// copyProfile detaches the slices so callers and the cache never share
// backing arrays.
func copyProfile(p *domain.UserProfile) *domain.UserProfile {
	out := &domain.UserProfile{
		UserID:   p.UserID,
		LastSeen: p.LastSeen,
	}
	if len(p.KnownLocations) > 0 {
		out.KnownLocations = make([]domain.Geolocation, len(p.KnownLocations))
		copy(out.KnownLocations, p.KnownLocations)
	}
	if len(p.KnownDevices) > 0 {
		out.KnownDevices = make([]string, len(p.KnownDevices))
		copy(out.KnownDevices, p.KnownDevices)
	}
	return out
}
