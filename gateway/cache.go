package gateway

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry is one cached initialized gateway instance.
type cacheEntry struct {
	Instance     Gateway
	Key          string
	TenantID     string
	GatewayID    string
	Mode         string
	CreatedAt    time.Time
	LastAccessed time.Time
	listElement  *list.Element
}

// InstanceCache caches initialized gateway instances so credentials are not
// decrypted and connections not rebuilt on every request.
type InstanceCache interface {
	// Get retrieves an instance from cache, nil when absent or expired.
	Get(tenantID, gatewayID, mode string) Gateway

	// Set stores an initialized instance.
	Set(tenantID, gatewayID, mode string, instance Gateway)

	// Delete removes one instance.
	Delete(tenantID, gatewayID, mode string)

	// DeleteByTenantGateway removes every mode's instance for a tenant-gateway pair.
	DeleteByTenantGateway(tenantID, gatewayID string)

	// Clear removes all entries.
	Clear()

	// Size returns the current number of cached entries.
	Size() int

	// Stats returns cache performance counters.
	Stats() CacheStats

	// Cleanup removes expired entries.
	Cleanup()
}

// CacheStats represents cache performance metrics.
type CacheStats struct {
	Size        int           `json:"size"`
	MaxSize     int           `json:"max_size"`
	Hits        int64         `json:"hits"`
	Misses      int64         `json:"misses"`
	Evictions   int64         `json:"evictions"`
	TTLExpiries int64         `json:"ttl_expiries"`
	HitRatio    float64       `json:"hit_ratio"`
	TTL         time.Duration `json:"ttl"`
}

// InMemoryInstanceCache implements InstanceCache with LRU eviction and TTL
// expiry.
type InMemoryInstanceCache struct {
	entries     map[string]*cacheEntry
	accessOrder *list.List // most recent at front
	maxSize     int
	ttl         time.Duration
	mu          sync.Mutex

	hits        int64
	misses      int64
	evictions   int64
	ttlExpiries int64
}

// NewInstanceCache creates an in-memory instance cache.
func NewInstanceCache(maxSize int, ttl time.Duration) InstanceCache {
	return &InMemoryInstanceCache{
		entries:     make(map[string]*cacheEntry),
		accessOrder: list.New(),
		maxSize:     maxSize,
		ttl:         ttl,
	}
}

func cacheKey(tenantID, gatewayID, mode string) string {
	return tenantID + "|" + gatewayID + "|" + mode
}

// Get retrieves an instance from cache.
func (c *InMemoryInstanceCache) Get(tenantID, gatewayID, mode string) Gateway {
	key := cacheKey(tenantID, gatewayID, mode)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil
	}

	if c.ttl > 0 && time.Since(entry.CreatedAt) > c.ttl {
		c.deleteEntryLocked(key, entry)
		c.ttlExpiries++
		c.misses++
		return nil
	}

	entry.LastAccessed = time.Now()
	c.accessOrder.MoveToFront(entry.listElement)

	c.hits++
	return entry.Instance
}

// Set stores an initialized instance.
func (c *InMemoryInstanceCache) Set(tenantID, gatewayID, mode string, instance Gateway) {
	key := cacheKey(tenantID, gatewayID, mode)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, exists := c.entries[key]; exists {
		existing.Instance = instance
		existing.CreatedAt = now
		existing.LastAccessed = now
		c.accessOrder.MoveToFront(existing.listElement)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictLRULocked()
	}

	entry := &cacheEntry{
		Instance:     instance,
		Key:          key,
		TenantID:     tenantID,
		GatewayID:    gatewayID,
		Mode:         mode,
		CreatedAt:    now,
		LastAccessed: now,
	}

	entry.listElement = c.accessOrder.PushFront(entry)
	c.entries[key] = entry
}

// Delete removes one instance from cache.
func (c *InMemoryInstanceCache) Delete(tenantID, gatewayID, mode string) {
	key := cacheKey(tenantID, gatewayID, mode)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		c.deleteEntryLocked(key, entry)
	}
}

// DeleteByTenantGateway removes all entries for a tenant-gateway pair.
func (c *InMemoryInstanceCache) DeleteByTenantGateway(tenantID, gatewayID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keysToDelete []string
	for key, entry := range c.entries {
		if entry.TenantID == tenantID && entry.GatewayID == gatewayID {
			keysToDelete = append(keysToDelete, key)
		}
	}

	for _, key := range keysToDelete {
		if entry, exists := c.entries[key]; exists {
			c.deleteEntryLocked(key, entry)
		}
	}
}

// Clear removes all entries from cache.
func (c *InMemoryInstanceCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.accessOrder = list.New()
}

// Size returns the current number of cached entries.
func (c *InMemoryInstanceCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Stats returns cache statistics.
func (c *InMemoryInstanceCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	totalRequests := c.hits + c.misses
	hitRatio := 0.0
	if totalRequests > 0 {
		hitRatio = float64(c.hits) / float64(totalRequests)
	}

	return CacheStats{
		Size:        len(c.entries),
		MaxSize:     c.maxSize,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		TTLExpiries: c.ttlExpiries,
		HitRatio:    hitRatio,
		TTL:         c.ttl,
	}
}

// Cleanup removes expired entries.
func (c *InMemoryInstanceCache) Cleanup() {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expiredKeys []string

	for key, entry := range c.entries {
		if now.Sub(entry.CreatedAt) > c.ttl {
			expiredKeys = append(expiredKeys, key)
		}
	}

	for _, key := range expiredKeys {
		if entry, exists := c.entries[key]; exists {
			c.deleteEntryLocked(key, entry)
			c.ttlExpiries++
		}
	}
}

// evictLRULocked removes the least recently used entry. Caller holds the lock.
func (c *InMemoryInstanceCache) evictLRULocked() {
	lruElement := c.accessOrder.Back()
	if lruElement == nil {
		return
	}

	lruEntry := lruElement.Value.(*cacheEntry)
	c.deleteEntryLocked(lruEntry.Key, lruEntry)
	c.evictions++
}

// deleteEntryLocked removes an entry from map and list. Caller holds the lock.
func (c *InMemoryInstanceCache) deleteEntryLocked(key string, entry *cacheEntry) {
	delete(c.entries, key)
	if entry.listElement != nil {
		c.accessOrder.Remove(entry.listElement)
	}
}
