// Package sharecache holds published conversations in a bounded, TTL-aware
// LRU cache. It is process-local: shares live until unshared, evicted, or
// expired.
package sharecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tranvh/contextgate/internal/observability"
	"github.com/tranvh/contextgate/pkg/models"
)

// ErrNotFound is returned for missing, expired, or evicted share IDs.
var ErrNotFound = errors.New("shared conversation not found")

const defaultSweepInterval = 5 * time.Minute

// Config bounds the cache.
type Config struct {
	// MaxEntries caps the entry count (default 1000).
	MaxEntries int
	// DefaultTTL applies when Set is called without an explicit TTL
	// (default 24h). Zero or negative TTLs on Set mean "use default".
	DefaultTTL time.Duration
	// SweepInterval is how often the background sweeper removes expired
	// entries (default 5m).
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1000
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
}

// entry is a cache slot threaded through the LRU list.
type entry struct {
	key       string
	value     *models.SharedConversation
	expiresAt time.Time
	size      int64
	prev      *entry
	next      *entry
}

// Stats is a point-in-time snapshot of cache health.
type Stats struct {
	TotalKeys   int     `json:"total_keys"`
	MemoryUsage string  `json:"memory_usage"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate_percent"`
	UptimeMs    int64   `json:"uptime_ms"`
}

// Health is the result of a cache self-check.
type Health struct {
	Status    string  `json:"status"` // healthy | unhealthy
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// Cache is the shared-conversation store. All operations are safe for
// concurrent use; a single mutex covers the map and the LRU order so
// access-order updates observe a consistent total order per key.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*entry
	head    *entry // most recently used
	tail    *entry // least recently used
	bytes   int64
	hits    int64
	misses  int64
	started time.Time

	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New creates the cache and starts its background sweeper. Call Close on
// shutdown to stop the sweeper and drop the map.
func New(cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Cache {
	cfg.applyDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		items:       make(map[string]*entry),
		started:     time.Now(),
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		sweepCancel: cancel,
		sweepDone:   make(chan struct{}),
	}
	go c.sweep(ctx)
	return c
}

// Get returns a shared conversation, promoting it in the LRU order.
// Expired entries are removed lazily and reported as not found.
func (c *Cache) Get(shareID string) (*models.SharedConversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[shareID]
	if ok && e.value.Expired(time.Now()) {
		c.removeLocked(e)
		ok = false
	}
	if !ok {
		c.misses++
		c.countOp("get", "miss")
		return nil, ErrNotFound
	}

	c.hits++
	c.countOp("get", "hit")
	c.moveToFront(e)
	return e.value, nil
}

// Set stores a conversation under its share ID. A zero ttl uses the
// configured default. Inserting a new key at capacity evicts the least
// recently used entry.
func (c *Cache) Set(shareID string, conv *models.SharedConversation, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	now := time.Now()
	if conv.ExpiresAt.IsZero() {
		conv.ExpiresAt = now.Add(ttl)
	}
	size := estimateSize(shareID, conv)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.items[shareID]; exists {
		c.bytes += size - e.size
		e.value = conv
		e.expiresAt = conv.ExpiresAt
		e.size = size
		c.moveToFront(e)
		c.countOp("set", "ok")
		return
	}

	if len(c.items) >= c.cfg.MaxEntries {
		c.evictLRULocked()
	}

	e := &entry{key: shareID, value: conv, expiresAt: conv.ExpiresAt, size: size}
	c.items[shareID] = e
	c.addToFront(e)
	c.bytes += size
	c.countOp("set", "ok")
}

// Has reports whether a live entry exists without touching the LRU order
// or the hit counters.
func (c *Cache) Has(shareID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[shareID]
	return ok && !e.value.Expired(time.Now())
}

// Delete removes an entry. Returns true when something was removed.
func (c *Cache) Delete(shareID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[shareID]
	if !ok {
		return false
	}
	c.removeLocked(e)
	c.countOp("delete", "ok")
	return true
}

// BatchDelete removes several entries, returning how many existed.
func (c *Cache) BatchDelete(shareIDs []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, id := range shareIDs {
		if e, ok := c.items[id]; ok {
			c.removeLocked(e)
			n++
		}
	}
	if n > 0 {
		c.countOp("delete", "ok")
	}
	return n
}

// ClearAll drops every entry. Counters and uptime are preserved.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry)
	c.head, c.tail = nil, nil
	c.bytes = 0
}

// SetTTL rewrites an entry's expiry relative to now.
func (c *Cache) SetTTL(shareID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[shareID]
	if !ok || e.value.Expired(time.Now()) {
		return ErrNotFound
	}
	e.expiresAt = time.Now().Add(ttl)
	e.value.ExpiresAt = e.expiresAt
	return nil
}

// GetTTL returns the remaining lifetime of an entry.
func (c *Cache) GetTTL(shareID string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[shareID]
	if !ok {
		return 0, ErrNotFound
	}
	remaining := time.Until(e.expiresAt)
	if remaining < 0 {
		return 0, ErrNotFound
	}
	return remaining, nil
}

// Len returns the live entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats snapshots the counters. Hit rate is hits/(hits+misses) as a
// percentage; memory usage is an estimate, not a hard bound.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalKeys:   len(c.items),
		MemoryUsage: humanBytes(c.bytes),
		Hits:        c.hits,
		Misses:      c.misses,
		UptimeMs:    time.Since(c.started).Milliseconds(),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = 100 * float64(c.hits) / float64(total)
	}
	return s
}

// HealthCheck runs a write/read/delete probe against the cache itself.
func (c *Cache) HealthCheck() Health {
	start := time.Now()
	probe := fmt.Sprintf("healthcheck:%d", start.UnixNano())
	c.Set(probe, &models.SharedConversation{ShareID: probe, Title: "probe"}, time.Minute)
	_, err := c.Get(probe)
	c.Delete(probe)

	h := Health{Status: "healthy", LatencyMs: float64(time.Since(start).Microseconds()) / 1000}
	if err != nil {
		h.Status = "unhealthy"
		h.Error = err.Error()
	}
	return h
}

// Close stops the sweeper and clears the map. In-flight operations finish
// normally.
func (c *Cache) Close() {
	c.sweepCancel()
	<-c.sweepDone
	c.ClearAll()
}

// sweep removes expired entries on a timer until cancelled.
func (c *Cache) sweep(ctx context.Context) {
	defer close(c.sweepDone)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed int
	for _, e := range c.items {
		if now.After(e.expiresAt) {
			c.removeLocked(e)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug(context.Background(), "swept expired shares", "removed", removed)
	}
}

func (c *Cache) countOp(op, result string) {
	if c.metrics != nil {
		c.metrics.ShareCacheOps.WithLabelValues(op, result).Inc()
	}
}

func (c *Cache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.addToFront(e)
}

func (c *Cache) addToFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.items, e.key)
	c.unlink(e)
	c.bytes -= e.size
}

func (c *Cache) evictLRULocked() {
	if c.tail == nil {
		return
	}
	c.countOp("delete", "ok")
	c.removeLocked(c.tail)
}

// estimateSize approximates an entry's footprint: UTF-16 bytes for the key
// plus the JSON size of the value.
func estimateSize(key string, conv *models.SharedConversation) int64 {
	size := int64(len([]rune(key)) * 2)
	if raw, err := json.Marshal(conv); err == nil {
		size += int64(len(raw))
	}
	return size
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
