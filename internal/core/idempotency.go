package core

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// IdempotencyChecker implements two-tier deduplication
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	// Metrics
	metrics  *IdempotencyMetrics
	lastTier string
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

// CompositeKey is the LRU key for a command; snapshots and warm-up lists use it.
func CompositeKey(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}

// IsDuplicate checks if event has been processed (two-tier lookup)
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := CompositeKey(eventType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if ic.lru.Contains(key) {
		ic.recordDuplicate(eventType, "lru")
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// A tier-2 outage must not stall the core; the log's unique
			// constraint still rejects a real duplicate on write.
			ic.metrics.RecordTier2Error()
			return false
		}

		if isDup {
			ic.recordDuplicate(eventType, "postgres")
			ic.lru.Add(key)
			return true
		}
	}

	return false
}

func (ic *IdempotencyChecker) recordDuplicate(eventType, tier string) {
	ic.metrics.RecordDuplicate(eventType, tier)
	ic.lastTier = tier
}

// LastTier names the tier that caught the most recent duplicate.
func (ic *IdempotencyChecker) LastTier() string {
	if ic.lastTier == "" {
		return "lru"
	}
	return ic.lastTier
}

// MarkProcessed adds key to LRU after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(CompositeKey(eventType, idempotencyKey))
}

// GetMetrics returns metrics for monitoring
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- LRU ---

// IdempotencyLRU holds recently processed composite keys.
type IdempotencyLRU struct {
	cache     *lru.Cache
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	l := &IdempotencyLRU{}
	cache, err := lru.NewWithEvict(capacity, func(key, value interface{}) {
		l.evictions++
	})
	if err != nil {
		panic(fmt.Sprintf("FATAL: idempotency LRU: %v", err))
	}
	l.cache = cache
	return l
}

func (l *IdempotencyLRU) Contains(key string) bool {
	_, ok := l.cache.Get(key)
	return ok
}

func (l *IdempotencyLRU) Add(key string) {
	l.cache.Add(key, struct{}{})
}

// WarmFromKeys loads composite keys on restart, oldest first, so the
// most recent survive if the list exceeds capacity.
func (l *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		l.cache.Add(key, struct{}{})
	}
}

// GetAllKeys returns keys from oldest to newest.
func (l *IdempotencyLRU) GetAllKeys() []string {
	raw := l.cache.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	return keys
}

func (l *IdempotencyLRU) Size() int {
	return l.cache.Len()
}

func (l *IdempotencyLRU) Evictions() int64 {
	return l.evictions
}

// --- Metrics ---

// IdempotencyMetrics tracks dedup stats.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type IdempotencyMetrics struct {
	duplicatesLRU      map[string]int64 // event_type -> count
	duplicatesPostgres map[string]int64
	tier2Errors        int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(eventType string, tier string) {
	if tier == "lru" {
		m.duplicatesLRU[eventType]++
	} else {
		m.duplicatesPostgres[eventType]++
	}
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(eventType string) (lru int64, postgres int64) {
	return m.duplicatesLRU[eventType], m.duplicatesPostgres[eventType]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
