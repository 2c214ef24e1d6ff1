// Package quota enforces per-tenant ceilings on operation rate, batch size
// and transaction concurrency. Counters live in Redis so limits hold across
// processes; a small in-process mirror short-circuits tenants already over
// their window limit.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Type identifies one quota dimension.
type Type string

const (
	// TypeOperationsPerMinute limits write operations per tenant per minute.
	TypeOperationsPerMinute Type = "ops_per_minute"
	// TypeAdjustmentsPerDay limits ledger entries per tenant per day.
	TypeAdjustmentsPerDay Type = "adjustments_per_day"
	// TypeBatchSize limits items per batch request.
	TypeBatchSize Type = "batch_size"
	// TypeConcurrentTx limits in-flight transactions per tenant.
	TypeConcurrentTx Type = "concurrent_tx"
)

// Limits groups the configurable ceilings for one tenant.
type Limits struct {
	OperationsPerMinute int64
	AdjustmentsPerDay   int64
	MaxBatchSize        int64
	MaxConcurrentTx     int64
}

// DefaultLimits returns the global defaults applied when no tenant override exists.
func DefaultLimits() Limits {
	return Limits{
		OperationsPerMinute: 120,
		AdjustmentsPerDay:   5000,
		MaxBatchSize:        100,
		MaxConcurrentTx:     8,
	}
}

// ExceededError reports a quota rejection with enough detail for client backoff.
type ExceededError struct {
	Type         Type
	TenantID     int64
	CurrentUsage int64
	Limit        int64
	ResetAt      time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota: %s exceeded for tenant %d: usage %d of %d (resets %s)",
		e.Type, e.TenantID, e.CurrentUsage, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// CheckResult describes the outcome of a quota probe.
type CheckResult struct {
	Allowed      bool
	CurrentUsage int64
	Limit        int64
	Remaining    int64
	ResetAt      time.Time
}

// Recorder counts quota denials for observability.
type Recorder interface {
	RecordQuotaDenial(quotaType string)
}

type mirrorEntry struct {
	usage  int64
	window time.Time
}

// Limiter checks and increments tenant counters.
type Limiter struct {
	client   *redis.Client
	defaults Limits
	recorder Recorder
	now      func() time.Time

	mu        sync.Mutex
	overrides map[int64]Limits
	mirror    map[string]mirrorEntry
	activeTx  map[int64]int64
}

// NewLimiter constructs a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, defaults Limits, recorder Recorder) *Limiter {
	if defaults == (Limits{}) {
		defaults = DefaultLimits()
	}
	return &Limiter{
		client:    client,
		defaults:  defaults,
		recorder:  recorder,
		now:       time.Now,
		overrides: make(map[int64]Limits),
		mirror:    make(map[string]mirrorEntry),
		activeTx:  make(map[int64]int64),
	}
}

// SetOverride installs tenant-specific limits. Zero fields fall back to defaults.
func (l *Limiter) SetOverride(tenantID int64, limits Limits) {
	l.mu.Lock()
	l.overrides[tenantID] = limits
	l.mu.Unlock()
}

// ApplyOverrides merges per-dimension override maps, keyed by tenant, into
// the limiter. Dimensions absent for a tenant keep the global default.
func (l *Limiter) ApplyOverrides(opsPerMinute, adjustmentsPerDay map[int64]int64) {
	merged := make(map[int64]Limits)
	for tenantID, v := range opsPerMinute {
		o := merged[tenantID]
		o.OperationsPerMinute = v
		merged[tenantID] = o
	}
	for tenantID, v := range adjustmentsPerDay {
		o := merged[tenantID]
		o.AdjustmentsPerDay = v
		merged[tenantID] = o
	}
	for tenantID, limits := range merged {
		l.SetOverride(tenantID, limits)
	}
}

func (l *Limiter) limitFor(tenantID int64, typ Type) int64 {
	l.mu.Lock()
	override, ok := l.overrides[tenantID]
	l.mu.Unlock()
	pick := func(o, d int64) int64 {
		if ok && o > 0 {
			return o
		}
		return d
	}
	switch typ {
	case TypeOperationsPerMinute:
		return pick(override.OperationsPerMinute, l.defaults.OperationsPerMinute)
	case TypeAdjustmentsPerDay:
		return pick(override.AdjustmentsPerDay, l.defaults.AdjustmentsPerDay)
	case TypeBatchSize:
		return pick(override.MaxBatchSize, l.defaults.MaxBatchSize)
	case TypeConcurrentTx:
		return pick(override.MaxConcurrentTx, l.defaults.MaxConcurrentTx)
	}
	return 0
}

func windowFor(typ Type, now time.Time) (start time.Time, length time.Duration) {
	switch typ {
	case TypeAdjustmentsPerDay:
		return now.Truncate(24 * time.Hour), 24 * time.Hour
	default:
		return now.Truncate(time.Minute), time.Minute
	}
}

func counterKey(typ Type, tenantID int64, windowStart time.Time) string {
	return fmt.Sprintf("quota:%s:%d:%d", typ, tenantID, windowStart.Unix())
}

// mirrorKey omits the window so each (type, tenant) pair holds exactly one
// mirror entry; rolling into a new window overwrites the stale one.
func mirrorKey(typ Type, tenantID int64) string {
	return fmt.Sprintf("%s:%d", typ, tenantID)
}

// CheckAndIncrement atomically increments the windowed counter for
// (type, tenant) and compares it against the effective limit. The counter
// is incremented even when the result is a denial, so sustained abuse keeps
// the usage figure honest.
func (l *Limiter) CheckAndIncrement(ctx context.Context, typ Type, tenantID int64) (CheckResult, error) {
	limit := l.limitFor(tenantID, typ)
	now := l.now()
	windowStart, windowLen := windowFor(typ, now)
	resetAt := windowStart.Add(windowLen)
	key := counterKey(typ, tenantID, windowStart)
	mk := mirrorKey(typ, tenantID)

	// Mirror short-circuit: a tenant known to be over limit in the current
	// window is denied without a Redis round trip.
	l.mu.Lock()
	if entry, ok := l.mirror[mk]; ok && entry.window.Equal(windowStart) && entry.usage >= limit {
		usage := entry.usage
		l.mu.Unlock()
		l.deny(typ)
		return CheckResult{Allowed: false, CurrentUsage: usage, Limit: limit, Remaining: 0, ResetAt: resetAt}, nil
	}
	l.mu.Unlock()

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, resetAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return CheckResult{}, fmt.Errorf("quota: increment counter: %w", err)
	}
	usage := incr.Val()

	l.mu.Lock()
	l.mirror[mk] = mirrorEntry{usage: usage, window: windowStart}
	l.mu.Unlock()

	remaining := limit - usage
	if remaining < 0 {
		remaining = 0
	}
	allowed := usage <= limit
	if !allowed {
		l.deny(typ)
	}
	return CheckResult{Allowed: allowed, CurrentUsage: usage, Limit: limit, Remaining: remaining, ResetAt: resetAt}, nil
}

// EnforceQuota runs CheckAndIncrement and converts denials into ExceededError.
// Callers invoke this before opening any transactional write.
func (l *Limiter) EnforceQuota(ctx context.Context, typ Type, tenantID int64) error {
	result, err := l.CheckAndIncrement(ctx, typ, tenantID)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return &ExceededError{
			Type:         typ,
			TenantID:     tenantID,
			CurrentUsage: result.CurrentUsage,
			Limit:        result.Limit,
			ResetAt:      result.ResetAt,
		}
	}
	return nil
}

// EnforceBatchSize rejects batches larger than the tenant's ceiling.
// Purely local: batch size is a property of the request, not a counter.
func (l *Limiter) EnforceBatchSize(tenantID int64, size int) error {
	limit := l.limitFor(tenantID, TypeBatchSize)
	if int64(size) <= limit {
		return nil
	}
	l.deny(TypeBatchSize)
	return &ExceededError{
		Type:         TypeBatchSize,
		TenantID:     tenantID,
		CurrentUsage: int64(size),
		Limit:        limit,
		ResetAt:      l.now(),
	}
}

// AcquireTx reserves one concurrent-transaction slot for the tenant. The
// returned release function must be called once the transaction finishes.
func (l *Limiter) AcquireTx(tenantID int64) (func(), error) {
	limit := l.limitFor(tenantID, TypeConcurrentTx)
	l.mu.Lock()
	active := l.activeTx[tenantID]
	if active >= limit {
		l.mu.Unlock()
		l.deny(TypeConcurrentTx)
		return nil, &ExceededError{
			Type:         TypeConcurrentTx,
			TenantID:     tenantID,
			CurrentUsage: active,
			Limit:        limit,
			ResetAt:      l.now(),
		}
	}
	l.activeTx[tenantID] = active + 1
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.activeTx[tenantID] > 0 {
				l.activeTx[tenantID]--
			}
			l.mu.Unlock()
		})
	}, nil
}

func (l *Limiter) deny(typ Type) {
	if l.recorder != nil {
		l.recorder.RecordQuotaDenial(string(typ))
	}
}
