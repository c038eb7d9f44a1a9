package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxEntries bounds the cache before insertion-order eviction kicks in.
	DefaultMaxEntries = 1000
	// DefaultTTL is applied when a request carries no TTL of its own.
	DefaultTTL = 15 * time.Minute
)

// Entry is a cached provider response.
type Entry struct {
	Value     string    `json:"value"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	TaskType  string    `json:"task_type"`
	CostUSD   float64   `json:"cost_usd"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats summarizes cache effectiveness.
type Stats struct {
	Entries  int     `json:"entries"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
	SavedUSD float64 `json:"saved_usd"`
}

// Snapshot is the persisted form of the cache: the entry map plus the
// insertion order, so eviction behaves identically after a restore.
type Snapshot struct {
	Entries map[string]Entry `json:"entries"`
	Order   []string         `json:"order"`
}

// Cache stores responses keyed by semantic identity. Entries expire lazily
// on read; when full, the oldest insertion is evicted (insertion order, not
// recency of use).
type Cache struct {
	entries map[string]Entry
	order   []string
	max     int
	ttl     time.Duration

	hits     uint64
	misses   uint64
	savedUSD float64

	now    func() time.Time
	mu     sync.Mutex
	logger *zap.Logger
}

// New creates a cache. maxEntries <= 0 and ttl <= 0 fall back to defaults.
func New(maxEntries int, ttl time.Duration, logger *zap.Logger) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]Entry),
		max:     maxEntries,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Key derives the cache key from a request's semantic identity.
func Key(taskType, prompt string) string {
	h := fnv.New64a()
	h.Write([]byte(taskType))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Get returns a live entry. Expired entries are purged on read and count
// as misses.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	if c.now().After(e.ExpiresAt) {
		delete(c.entries, key)
		c.misses++
		return Entry{}, false
	}
	c.hits++
	c.savedUSD += e.CostUSD
	return e, true
}

// Put stores an entry. ttl <= 0 uses the default. Inserting a new key at
// capacity evicts the oldest inserted entry; re-putting an existing key
// refreshes it without reordering.
func (c *Cache) Put(key string, e Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	e.StoredAt = now
	e.ExpiresAt = now.Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = e
		return
	}

	for len(c.entries) >= c.max {
		c.evictOldestLocked()
	}
	c.entries[key] = e
	c.order = append(c.order, key)
}

// evictOldestLocked drops the oldest live insertion, skipping order slots
// whose entries were already purged on read.
func (c *Cache) evictOldestLocked() {
	for len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[oldest]; ok {
			delete(c.entries, oldest)
			c.logger.Debug("evicted cache entry", zap.String("key", oldest))
			return
		}
	}
}

// Len returns the number of stored entries, including not-yet-purged
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports hit/miss counts and the cost avoided by hits.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Entries:  len(c.entries),
		Hits:     c.hits,
		Misses:   c.misses,
		SavedUSD: c.savedUSD,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Snapshot captures the cache for persistence.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Snapshot{
		Entries: make(map[string]Entry, len(c.entries)),
		Order:   make([]string, 0, len(c.order)),
	}
	for k, e := range c.entries {
		snap.Entries[k] = e
	}
	for _, k := range c.order {
		if _, ok := c.entries[k]; ok {
			snap.Order = append(snap.Order, k)
		}
	}
	return snap
}

// Restore loads a snapshot, dropping entries that expired while persisted.
// Returns the number of entries restored.
func (c *Cache) Restore(snap *Snapshot) int {
	if snap == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries = make(map[string]Entry, len(snap.Entries))
	c.order = c.order[:0]
	for _, k := range snap.Order {
		e, ok := snap.Entries[k]
		if !ok || now.After(e.ExpiresAt) {
			continue
		}
		if len(c.entries) >= c.max {
			break
		}
		c.entries[k] = e
		c.order = append(c.order, k)
	}
	return len(c.entries)
}
