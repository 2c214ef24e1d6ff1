// Package cache implements the tiered in-process read cache fronting the
// stock store and list queries. The cache is advisory: callers treat a miss
// as "fetch from the store", never as an error, and any entry may be evicted
// at any time without affecting correctness.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Tier identifies one TTL class of the cache.
type Tier int

const (
	// TierShort holds hot, frequently-changing values (stock levels).
	TierShort Tier = iota
	// TierMedium holds item lookups and list results.
	TierMedium
	// TierLong holds slow-moving reference data.
	TierLong

	tierCount = 3
)

// Default TTLs per tier.
const (
	DefaultShortTTL  = 30 * time.Second
	DefaultMediumTTL = 5 * time.Minute
	DefaultLongTTL   = 30 * time.Minute
)

// Recorder receives per-prefix cache operation counts.
type Recorder interface {
	RecordCacheOp(prefix, op string)
}

type item struct {
	value   interface{}
	expires time.Time
}

type tierStore struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]item
}

func newTierStore(ttl time.Duration) *tierStore {
	return &tierStore{ttl: ttl, items: make(map[string]item)}
}

func (t *tierStore) get(key string, now time.Time) (interface{}, bool) {
	t.mu.RLock()
	it, ok := t.items[key]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if now.After(it.expires) {
		t.mu.Lock()
		delete(t.items, key)
		t.mu.Unlock()
		return nil, false
	}
	return it.value, true
}

func (t *tierStore) set(key string, value interface{}, now time.Time) {
	t.mu.Lock()
	t.items[key] = item{value: value, expires: now.Add(t.ttl)}
	t.mu.Unlock()
}

func (t *tierStore) delete(key string) bool {
	t.mu.Lock()
	_, ok := t.items[key]
	if ok {
		delete(t.items, key)
	}
	t.mu.Unlock()
	return ok
}

func (t *tierStore) deletePrefix(prefix string) int {
	t.mu.Lock()
	removed := 0
	for key := range t.items {
		if strings.HasPrefix(key, prefix) {
			delete(t.items, key)
			removed++
		}
	}
	t.mu.Unlock()
	return removed
}

func (t *tierStore) flush() {
	t.mu.Lock()
	t.items = make(map[string]item)
	t.mu.Unlock()
}

// Config carries per-tier TTLs.
type Config struct {
	ShortTTL  time.Duration
	MediumTTL time.Duration
	LongTTL   time.Duration
}

// Manager is a three-tier TTL cache. Writes populate the requested tier and
// every faster tier below it; reads probe fast-to-slow and promote hits back
// into the faster tiers so repeated reads converge on the shortest path.
type Manager struct {
	tiers    [tierCount]*tierStore
	recorder Recorder
	group    singleflight.Group
	now      func() time.Time
}

// NewManager constructs a Manager. Zero TTLs fall back to the defaults.
func NewManager(cfg Config, recorder Recorder) *Manager {
	if cfg.ShortTTL <= 0 {
		cfg.ShortTTL = DefaultShortTTL
	}
	if cfg.MediumTTL <= 0 {
		cfg.MediumTTL = DefaultMediumTTL
	}
	if cfg.LongTTL <= 0 {
		cfg.LongTTL = DefaultLongTTL
	}
	m := &Manager{recorder: recorder, now: time.Now}
	m.tiers[TierShort] = newTierStore(cfg.ShortTTL)
	m.tiers[TierMedium] = newTierStore(cfg.MediumTTL)
	m.tiers[TierLong] = newTierStore(cfg.LongTTL)
	return m
}

// Get probes the tiers fast-to-slow and promotes hits into faster tiers.
func (m *Manager) Get(key string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	now := m.now()
	for tier := TierShort; tier < tierCount; tier++ {
		value, ok := m.tiers[tier].get(key, now)
		if !ok {
			continue
		}
		for faster := TierShort; faster < tier; faster++ {
			m.tiers[faster].set(key, value, now)
		}
		m.record(key, "hit")
		return value, true
	}
	m.record(key, "miss")
	return nil, false
}

// Set stores the value in the given tier and all faster tiers.
func (m *Manager) Set(key string, value interface{}, tier Tier) {
	if m == nil {
		return
	}
	if tier < TierShort || tier >= tierCount {
		tier = TierShort
	}
	now := m.now()
	for t := TierShort; t <= tier; t++ {
		m.tiers[t].set(key, value, now)
	}
	m.record(key, "set")
}

// Delete removes the key from every tier.
func (m *Manager) Delete(key string) {
	if m == nil {
		return
	}
	removed := false
	for tier := TierShort; tier < tierCount; tier++ {
		if m.tiers[tier].delete(key) {
			removed = true
		}
	}
	if removed {
		m.record(key, "delete")
	}
}

// InvalidateByPrefix removes matching keys from every tier and returns the
// number of distinct removals across tiers.
func (m *Manager) InvalidateByPrefix(prefix string) int {
	if m == nil {
		return 0
	}
	removed := 0
	for tier := TierShort; tier < tierCount; tier++ {
		removed += m.tiers[tier].deletePrefix(prefix)
	}
	if removed > 0 {
		m.record(prefix, "delete")
	}
	return removed
}

// Fetch returns the cached value for key or loads it through the loader,
// storing the result in the given tier. Concurrent loads for the same key
// are collapsed into a single call.
func (m *Manager) Fetch(ctx context.Context, key string, tier Tier, loader func(context.Context) (interface{}, error)) (interface{}, error) {
	if m == nil {
		return loader(ctx)
	}
	if value, ok := m.Get(key); ok {
		return value, nil
	}
	value, err, _ := m.group.Do(key, func() (interface{}, error) {
		if value, ok := m.Get(key); ok {
			return value, nil
		}
		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		m.Set(key, loaded, tier)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Flush clears every tier. Safe at any time; only perceived staleness changes.
func (m *Manager) Flush() {
	if m == nil {
		return
	}
	for tier := TierShort; tier < tierCount; tier++ {
		m.tiers[tier].flush()
	}
}

func (m *Manager) record(key, op string) {
	if m.recorder == nil {
		return
	}
	m.recorder.RecordCacheOp(keyPrefix(key), op)
}

func keyPrefix(key string) string {
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	return key
}
