package credentials

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/upb/command-bridge/internal/observability"
)

// cacheEntry holds one validation outcome. Entries are strictly expired at
// expiresAt; there is no soft-serve window.
type cacheEntry struct {
	key       string
	valid     bool
	tenantID  string
	metadata  map[string]interface{}
	expiresAt time.Time
	element   *list.Element
}

// Cache is an in-memory LRU cache with TTL for validation results, keyed by
// a digest of the token so raw credentials are never held as map keys.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	hits    uint64
	misses  uint64
	// gen advances on Invalidate and Clear; SetIfCurrent drops results
	// fetched under an older generation.
	gen uint64
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewCache creates a cache holding at most maxSize entries for ttl each.
// maxSize <= 0 means unbounded.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for token, or false when absent or expired.
func (c *Cache) Get(token string) (ValidationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(token)
	entry, exists := c.entries[key]
	if !exists || !c.now().Before(entry.expiresAt) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		return ValidationResult{}, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++

	outcome := OutcomeRejected
	if entry.valid {
		outcome = OutcomeOK
	}
	return ValidationResult{
		Valid:     entry.valid,
		TenantID:  entry.tenantID,
		Metadata:  entry.metadata,
		Cacheable: true,
		Outcome:   outcome,
	}, true
}

// Generation returns the current invalidation generation.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Set stores a result. Non-cacheable results are ignored.
func (c *Cache) Set(token string, result ValidationResult) {
	if !result.Cacheable {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(token, result)
}

// SetIfCurrent stores a result only if no Invalidate or Clear happened since
// gen was read. It reports whether the result was stored.
func (c *Cache) SetIfCurrent(token string, result ValidationResult, gen uint64) bool {
	if !result.Cacheable {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.set(token, result)
	return true
}

// must be called with lock held
func (c *Cache) set(token string, result ValidationResult) {
	key := cacheKey(token)
	expiresAt := c.now().Add(c.ttl)

	if entry, exists := c.entries[key]; exists {
		entry.valid = result.Valid
		entry.tenantID = result.TenantID
		entry.metadata = result.Metadata
		entry.expiresAt = expiresAt
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.maxSize > 0 && c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		key:       key,
		valid:     result.Valid,
		tenantID:  result.TenantID,
		metadata:  result.Metadata,
		expiresAt: expiresAt,
	}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry
}

// Invalidate removes the entry for token.
func (c *Cache) Invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.removeEntry(cacheKey(token))
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
	}
}

// must be called with lock held
func (c *Cache) removeEntry(key string) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// must be called with lock held
func (c *Cache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, key)
	observability.CredentialCacheEvictions.Inc()
}

// CleanupExpired removes all expired entries and returns how many were dropped.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []string
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.removeEntry(key)
	}
	return len(expired)
}

// StartCleanupWorker periodically drops expired entries until stopCh closes.
func (c *Cache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
