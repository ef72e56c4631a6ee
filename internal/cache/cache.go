// Package cache implements the in-memory prediction cache: content-addressed
// LRU with TTL expiration, model-version invalidation, and a high-risk
// bypass that keeps borderline applicants off the cache entirely.
//
// The cache is volatile: nothing survives a restart. Every operation runs
// under a single exclusive mutex; operations are O(1) amortized and never
// block on I/O, so a coarse lock suffices and keeps LRU ordering global.
package cache

import (
	"container/list"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/finsight/riskserve/internal/features"
)

// HighRiskThreshold is the risk score at or above which predictions are
// never cached. A high-risk applicant is always re-evaluated against the
// freshest model and policy rather than an old cached judgment.
const HighRiskThreshold = 0.70

// Defaults applied by callers that have no explicit configuration.
const (
	DefaultMaxEntries = 1000
	DefaultTTL        = time.Hour
)

var (
	// ErrInvalidMaxEntries is returned at construction for a non-positive capacity.
	ErrInvalidMaxEntries = errors.New("cache: max entries must be positive")
	// ErrInvalidTTL is returned at construction for a non-positive TTL.
	ErrInvalidTTL = errors.New("cache: ttl must be positive")
)

// Record is the cached prediction. The cache reads only RiskScore (for the
// high-risk bypass); everything else is an opaque payload owned by the entry.
type Record struct {
	RiskScore    float64 `json:"risk_score"`
	ModelVersion string  `json:"model_version"`
	// Payload carries the display fields (risk level, recommended action,
	// explanation text) serialized by the caller. The cache never parses it.
	Payload []byte `json:"payload,omitempty"`
}

func (r Record) clone() Record {
	out := r
	if r.Payload != nil {
		out.Payload = append([]byte(nil), r.Payload...)
	}
	return out
}

// entry is a cached prediction with its freshness metadata.
type entry struct {
	key          string
	record       Record
	insertedAt   time.Time
	modelVersion string
}

// explEntry is a cached explanation blob keyed by request id.
type explEntry struct {
	requestID  string
	data       []byte
	insertedAt time.Time
}

// Stats is a point-in-time snapshot of the cache counters. Reading it does
// not perturb recency order.
type Stats struct {
	Hits             uint64  `json:"hits"`
	Misses           uint64  `json:"misses"`
	Evictions        uint64  `json:"evictions"`
	Expirations      uint64  `json:"expirations"`
	HighRiskBypasses uint64  `json:"high_risk_bypasses"`
	CurrentSize      int     `json:"current_size"`
	ExplanationCount int     `json:"explanation_count"`
	MaxSize          int     `json:"max_size"`
	HitRate          float64 `json:"hit_rate"`
	TotalRequests    uint64  `json:"total_requests"`
}

// Cache is a thread-safe prediction cache with LRU eviction and TTL
// expiration, plus an explanation side-table keyed by request id with an
// independent lifecycle but the same TTL policy.
type Cache struct {
	mu sync.Mutex

	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	// Predictions: front of order is least recently used.
	entries map[string]*list.Element
	order   *list.List

	// Explanations: separate table so they never compete with predictions
	// for capacity, same recency + TTL rules.
	expls     map[string]*list.Element
	explOrder *list.List

	hits             uint64
	misses           uint64
	evictions        uint64
	expirations      uint64
	highRiskBypasses uint64
}

// Option configures the cache.
type Option func(*Cache)

// WithClock overrides the time source, for TTL tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a prediction cache. Non-positive maxEntries or ttl is a
// construction-time failure, never deferred to first use.
func New(maxEntries int, ttl time.Duration, opts ...Option) (*Cache, error) {
	if maxEntries <= 0 {
		return nil, ErrInvalidMaxEntries
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	c := &Cache{
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		expls:      make(map[string]*list.Element),
		explOrder:  list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// expired reports whether an insertion time has exceeded the TTL.
// Caller holds the lock.
func (c *Cache) expired(insertedAt time.Time) bool {
	return c.now().Sub(insertedAt) > c.ttl
}

// Get returns the cached prediction for the applicant under the current
// model version, or ok=false on a miss. Expired or version-mismatched
// entries are removed lazily and reported as misses; a hit moves the entry
// to most-recently-used.
func (c *Cache) Get(a *features.Applicant, modelVersion string) (Record, bool) {
	key := a.CacheKey(modelVersion)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return Record{}, false
	}

	ent := elem.Value.(*entry)

	if c.expired(ent.insertedAt) {
		c.expirations++
		c.misses++
		c.order.Remove(elem)
		delete(c.entries, key)
		return Record{}, false
	}

	if ent.modelVersion != modelVersion {
		c.misses++
		c.order.Remove(elem)
		delete(c.entries, key)
		return Record{}, false
	}

	c.order.MoveToBack(elem)
	c.hits++
	return ent.record.clone(), true
}

// Put stores a prediction for the applicant. Records with a risk score at
// or above HighRiskThreshold are never cached; the call only counts the
// bypass. If the cache is full and the key is new, the least-recently-used
// entry is evicted first.
func (c *Cache) Put(a *features.Applicant, modelVersion string, record Record) {
	key := a.CacheKey(modelVersion)

	c.mu.Lock()
	defer c.mu.Unlock()

	if record.RiskScore >= HighRiskThreshold {
		c.highRiskBypasses++
		return
	}

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry)
		ent.record = record.clone()
		ent.insertedAt = c.now()
		ent.modelVersion = modelVersion
		c.order.MoveToBack(elem)
		return
	}

	if len(c.entries) >= c.maxEntries {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*entry).key)
			c.evictions++
		}
	}

	ent := &entry{
		key:          key,
		record:       record.clone(),
		insertedAt:   c.now(),
		modelVersion: modelVersion,
	}
	c.entries[key] = c.order.PushBack(ent)
}

// PutExplanation stores an opaque explanation blob under a caller-supplied
// request id, with the same TTL policy as predictions but independent
// capacity.
func (c *Cache) PutExplanation(requestID string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.expls[requestID]; ok {
		ent := elem.Value.(*explEntry)
		ent.data = append([]byte(nil), data...)
		ent.insertedAt = c.now()
		c.explOrder.MoveToBack(elem)
		return
	}

	if len(c.expls) >= c.maxEntries {
		oldest := c.explOrder.Front()
		if oldest != nil {
			c.explOrder.Remove(oldest)
			delete(c.expls, oldest.Value.(*explEntry).requestID)
			c.evictions++
		}
	}

	ent := &explEntry{
		requestID:  requestID,
		data:       append([]byte(nil), data...),
		insertedAt: c.now(),
	}
	c.expls[requestID] = c.explOrder.PushBack(ent)
}

// GetExplanation returns the explanation stored for a request id, or
// ok=false if absent or expired. Expired entries are removed lazily.
func (c *Cache) GetExplanation(requestID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.expls[requestID]
	if !ok {
		return nil, false
	}

	ent := elem.Value.(*explEntry)
	if c.expired(ent.insertedAt) {
		c.expirations++
		c.explOrder.Remove(elem)
		delete(c.expls, requestID)
		return nil, false
	}

	c.explOrder.MoveToBack(elem)
	return append([]byte(nil), ent.data...), true
}

// Clear drops all predictions and explanations. Used on model redeploys.
// Counters survive a clear; only the contents are dropped.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.expls = make(map[string]*list.Element)
	c.explOrder.Init()
}

// CleanupExpired removes every expired prediction and explanation entry
// and returns how many were removed. Mismatched model versions are left
// for lazy removal on next access.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0

	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		ent := elem.Value.(*entry)
		if c.expired(ent.insertedAt) {
			c.order.Remove(elem)
			delete(c.entries, ent.key)
			c.expirations++
			removed++
		}
		elem = next
	}

	for elem := c.explOrder.Front(); elem != nil; {
		next := elem.Next()
		ent := elem.Value.(*explEntry)
		if c.expired(ent.insertedAt) {
			c.explOrder.Remove(elem)
			delete(c.expls, ent.requestID)
			c.expirations++
			removed++
		}
		elem = next
	}

	return removed
}

// Stats returns a snapshot of the cache counters. Safe to call at any
// frequency; does not touch recency order.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = math.Round(float64(c.hits)/float64(total)*1000) / 1000
	}

	return Stats{
		Hits:             c.hits,
		Misses:           c.misses,
		Evictions:        c.evictions,
		Expirations:      c.expirations,
		HighRiskBypasses: c.highRiskBypasses,
		CurrentSize:      len(c.entries),
		ExplanationCount: len(c.expls),
		MaxSize:          c.maxEntries,
		HitRate:          hitRate,
		TotalRequests:    total,
	}
}
