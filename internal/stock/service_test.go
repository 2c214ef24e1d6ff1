package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian/internal/cache"
	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/quota"
	"github.com/meridian-pos/meridian/internal/shared"
)

type memoryRepo struct {
	levels      map[string]StockLevel
	adjustments []Adjustment
	levelReads  int
	txFail      error
}

type memoryTx struct {
	levels      map[string]StockLevel
	adjustments []Adjustment
	fail        error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{levels: make(map[string]StockLevel)}
}

func levelKey(tenantID, itemID, locationID int64) string {
	return fmt.Sprintf("%d:%d:%d", tenantID, itemID, locationID)
}

// WithTx gives the callback a copy of the state and commits it back only on
// success, mirroring transactional rollback.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{levels: make(map[string]StockLevel, len(r.levels)), fail: r.txFail}
	for k, v := range r.levels {
		tx.levels[k] = v
	}
	tx.adjustments = append(tx.adjustments, r.adjustments...)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.levels = tx.levels
	r.adjustments = tx.adjustments
	return nil
}

func (r *memoryRepo) GetStockLevel(ctx context.Context, tenantID, itemID, locationID int64) (StockLevel, error) {
	r.levelReads++
	level, ok := r.levels[levelKey(tenantID, itemID, locationID)]
	if !ok {
		return StockLevel{}, ErrStockLevelNotFound
	}
	return level, nil
}

func (r *memoryRepo) ListStockLevels(ctx context.Context, tenantID int64, filter LevelFilter, page shared.Pagination) ([]StockLevel, int, error) {
	var out []StockLevel
	for _, level := range r.levels {
		if level.TenantID != tenantID {
			continue
		}
		if filter.LowStockOnly && level.Quantity > level.LowStockThreshold {
			continue
		}
		out = append(out, level)
	}
	return out, len(out), nil
}

func (r *memoryRepo) GetAdjustment(ctx context.Context, tenantID int64, id string) (Adjustment, error) {
	for _, adj := range r.adjustments {
		if adj.TenantID == tenantID && adj.ID == id {
			return adj, nil
		}
	}
	return Adjustment{}, shared.ErrNotFound
}

func (r *memoryRepo) ListAdjustments(ctx context.Context, tenantID int64, filter ListFilter, page shared.Pagination) ([]Adjustment, int, error) {
	var out []Adjustment
	for _, adj := range r.adjustments {
		if adj.TenantID == tenantID {
			out = append(out, adj)
		}
	}
	return out, len(out), nil
}

func (tx *memoryTx) GetStockLevelForUpdate(ctx context.Context, tenantID, itemID, locationID int64) (StockLevel, error) {
	level, ok := tx.levels[levelKey(tenantID, itemID, locationID)]
	if !ok {
		return StockLevel{TenantID: tenantID, ItemID: itemID, LocationID: locationID}, ErrStockLevelNotFound
	}
	return level, nil
}

func (tx *memoryTx) InsertStockLevel(ctx context.Context, level StockLevel) error {
	tx.levels[levelKey(level.TenantID, level.ItemID, level.LocationID)] = level
	return nil
}

func (tx *memoryTx) UpdateStockLevel(ctx context.Context, level StockLevel) error {
	key := levelKey(level.TenantID, level.ItemID, level.LocationID)
	if _, ok := tx.levels[key]; !ok {
		return ErrStockLevelNotFound
	}
	tx.levels[key] = level
	return nil
}

func (tx *memoryTx) InsertAdjustment(ctx context.Context, adj Adjustment) error {
	if tx.fail != nil {
		return tx.fail
	}
	tx.adjustments = append(tx.adjustments, adj)
	return nil
}

type staticItems struct {
	items map[int64]catalog.Item
}

func (s staticItems) GetItem(ctx context.Context, tenantID, itemID int64) (catalog.Item, error) {
	item, ok := s.items[itemID]
	if !ok {
		return catalog.Item{}, &catalog.ItemNotFoundError{TenantID: tenantID, ItemID: itemID}
	}
	return item, nil
}

func (s staticItems) GetItems(ctx context.Context, tenantID int64, itemIDs []int64) (map[int64]catalog.Item, error) {
	out := make(map[int64]catalog.Item)
	for _, id := range itemIDs {
		if item, ok := s.items[id]; ok {
			out[id] = item
		}
	}
	return out, nil
}

type fakeQuotas struct {
	denyWith  error
	checks    int
	acquired  int
	batchSize int64
}

func (q *fakeQuotas) EnforceQuota(ctx context.Context, typ quota.Type, tenantID int64) error {
	q.checks++
	return q.denyWith
}

func (q *fakeQuotas) EnforceBatchSize(tenantID int64, size int) error {
	if q.batchSize > 0 && int64(size) > q.batchSize {
		return &quota.ExceededError{Type: quota.TypeBatchSize, TenantID: tenantID, CurrentUsage: int64(size), Limit: q.batchSize}
	}
	return nil
}

func (q *fakeQuotas) AcquireTx(tenantID int64) (func(), error) {
	q.acquired++
	return func() {}, nil
}

type recordingNotifier struct {
	events []LowStockEvent
}

func (n *recordingNotifier) NotifyLowStock(ctx context.Context, event LowStockEvent) error {
	n.events = append(n.events, event)
	return nil
}

type memoryIdempotency struct {
	keys     map[string]bool
	released []string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]bool)}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	m.released = append(m.released, key)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestEngine(repo *memoryRepo, items map[int64]catalog.Item, notifier Notifier, cfg EngineConfig) *Engine {
	return NewEngine(discardLogger(), repo, staticItems{items: items}, &fakeQuotas{}, cache.NewManager(cache.Config{}, nil), nil, notifier, nil, cfg)
}

func TestCreateAdjustmentAccumulates(t *testing.T) {
	repo := newMemoryRepo()
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1, LowStockThreshold: 2}}, nil, EngineConfig{})
	ctx := context.Background()

	first, err := eng.CreateAdjustment(ctx, 1, 42, AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeReceipt, Delta: 10, Kind: RegularKind()}, "")
	require.NoError(t, err)
	require.Equal(t, int64(0), first.BeforeQuantity)
	require.Equal(t, int64(10), first.AfterQuantity)

	second, err := eng.CreateAdjustment(ctx, 1, 42, AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeReceipt, Delta: 5, Kind: RegularKind()}, "")
	require.NoError(t, err)
	require.Equal(t, int64(10), second.BeforeQuantity)
	require.Equal(t, int64(15), second.AfterQuantity)

	level := repo.levels[levelKey(1, 7, 3)]
	require.Equal(t, int64(15), level.Quantity)
	require.Equal(t, int64(42), level.LastUpdatedBy)
	require.Len(t, repo.adjustments, 2)
}

func TestCreateAdjustmentNegativeRollsBack(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 3}
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, nil, EngineConfig{})

	_, err := eng.CreateAdjustment(context.Background(), 1, 42, AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeIssue, Delta: -5, Kind: RegularKind()}, "")
	var negative *NegativeStockError
	require.ErrorAs(t, err, &negative)
	require.Equal(t, int64(3), negative.Current)
	require.Equal(t, int64(-5), negative.Requested)

	require.Equal(t, int64(3), repo.levels[levelKey(1, 7, 3)].Quantity)
	require.Empty(t, repo.adjustments)
}

func TestCreateAdjustmentRejectsTransferKind(t *testing.T) {
	repo := newMemoryRepo()
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7}}, nil, EngineConfig{})

	_, err := eng.CreateAdjustment(context.Background(), 1, 42, AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeTransfer, Delta: -5, Kind: TransferKind(4)}, "")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestCreateAdjustmentUnknownItem(t *testing.T) {
	repo := newMemoryRepo()
	eng := newTestEngine(repo, map[int64]catalog.Item{}, nil, EngineConfig{})

	_, err := eng.CreateAdjustment(context.Background(), 1, 42, AdjustmentRequest{ItemID: 99, LocationID: 3, Type: TypeReceipt, Delta: 1, Kind: RegularKind()}, "")
	var notFound *catalog.ItemNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, int64(99), notFound.ItemID)
}

func TestCreateTransferConservesTotal(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 10}
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, nil, EngineConfig{})

	result, err := eng.CreateTransfer(context.Background(), 1, 42, 7, 3, 4, 4, TransferOptions{Reason: "restock front"}, "")
	require.NoError(t, err)

	require.Equal(t, TypeTransfer, result.SourceAdjustment.Type)
	require.Equal(t, int64(-4), result.SourceAdjustment.QuantityAdjusted)
	require.Equal(t, int64(4), result.SourceAdjustment.TransferToLocationID)
	require.Equal(t, TypeReceipt, result.TargetAdjustment.Type)
	require.Equal(t, int64(4), result.TargetAdjustment.QuantityAdjusted)
	require.Equal(t, int64(3), result.TargetAdjustment.TransferToLocationID)

	src := repo.levels[levelKey(1, 7, 3)]
	dst := repo.levels[levelKey(1, 7, 4)]
	require.Equal(t, int64(6), src.Quantity)
	require.Equal(t, int64(4), dst.Quantity)
	require.Equal(t, int64(10), src.Quantity+dst.Quantity)
}

func TestCreateTransferInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 2}
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, nil, EngineConfig{})

	_, err := eng.CreateTransfer(context.Background(), 1, 42, 7, 3, 4, 5, TransferOptions{}, "")
	var negative *NegativeStockError
	require.ErrorAs(t, err, &negative)
	require.Equal(t, int64(2), repo.levels[levelKey(1, 7, 3)].Quantity)
	require.Empty(t, repo.adjustments)
}

func TestCreateTransferSameLocation(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 10}
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, nil, EngineConfig{})

	_, err := eng.CreateTransfer(context.Background(), 1, 42, 7, 3, 3, 4, TransferOptions{}, "")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestUpsertStockLevelWritesStockCount(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 15, LowStockThreshold: 2}
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1, LowStockThreshold: 2}}, nil, EngineConfig{})

	level, err := eng.UpsertStockLevel(context.Background(), 1, 42, 7, 3, 20, nil)
	require.NoError(t, err)
	require.Equal(t, int64(20), level.Quantity)

	require.Len(t, repo.adjustments, 1)
	adj := repo.adjustments[0]
	require.Equal(t, TypeStockCount, adj.Type)
	require.Equal(t, int64(5), adj.QuantityAdjusted)
	require.Equal(t, int64(15), adj.BeforeQuantity)
	require.Equal(t, int64(20), adj.AfterQuantity)
}

func TestUpsertStockLevelSameQuantitySkipsLedger(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 15, LowStockThreshold: 2}
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, nil, EngineConfig{})

	threshold := int64(8)
	level, err := eng.UpsertStockLevel(context.Background(), 1, 42, 7, 3, 15, &threshold)
	require.NoError(t, err)
	require.Equal(t, int64(15), level.Quantity)
	require.Equal(t, int64(8), level.LowStockThreshold)

	require.Empty(t, repo.adjustments)
	require.Equal(t, int64(8), repo.levels[levelKey(1, 7, 3)].LowStockThreshold)
}

func TestLowStockNotificationAfterCommit(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 10, LowStockThreshold: 5}
	notifier := &recordingNotifier{}
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, notifier, EngineConfig{})

	_, err := eng.CreateAdjustment(context.Background(), 1, 42, AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeWastage, Delta: -6, Kind: RegularKind()}, "")
	require.NoError(t, err)

	require.Len(t, notifier.events, 1)
	require.Equal(t, int64(4), notifier.events[0].Quantity)
	require.Equal(t, int64(5), notifier.events[0].Threshold)

	// Already below threshold, no second alert for staying below.
	_, err = eng.CreateAdjustment(context.Background(), 1, 42, AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeWastage, Delta: -1, Kind: RegularKind()}, "")
	require.NoError(t, err)
	require.Len(t, notifier.events, 1)
}

func TestLowStockNotificationNotSentOnRollback(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 10, LowStockThreshold: 5}
	notifier := &recordingNotifier{}
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, notifier, EngineConfig{})

	_, err := eng.CreateAdjustment(context.Background(), 1, 42, AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeIssue, Delta: -11, Kind: RegularKind()}, "")
	require.Error(t, err)
	require.Empty(t, notifier.events)
}

func TestBatchCreateAdjustments(t *testing.T) {
	repo := newMemoryRepo()
	items := map[int64]catalog.Item{
		7: {ID: 7, TenantID: 1},
		8: {ID: 8, TenantID: 1},
	}
	eng := newTestEngine(repo, items, nil, EngineConfig{BatchChunkSize: 2})

	reqs := []AdjustmentRequest{
		{ItemID: 7, LocationID: 3, Type: TypeReceipt, Delta: 10, Kind: RegularKind()},
		{ItemID: 8, LocationID: 3, Type: TypeReceipt, Delta: 4, Kind: RegularKind()},
		{ItemID: 7, LocationID: 5, Type: TypeReceipt, Delta: 2, Kind: RegularKind()},
	}
	result, err := eng.BatchCreateAdjustments(context.Background(), 1, 42, reqs, time.Now(), "")
	require.NoError(t, err)
	require.Equal(t, 3, result.SuccessCount)
	require.Zero(t, result.FailureCount)
	require.Len(t, result.Adjustments, 3)

	require.Equal(t, int64(10), repo.levels[levelKey(1, 7, 3)].Quantity)
	require.Equal(t, int64(4), repo.levels[levelKey(1, 8, 3)].Quantity)
	require.Equal(t, int64(2), repo.levels[levelKey(1, 7, 5)].Quantity)
}

func TestBatchUnknownItemAbortsBeforeWrites(t *testing.T) {
	repo := newMemoryRepo()
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, nil, EngineConfig{})

	reqs := []AdjustmentRequest{
		{ItemID: 7, LocationID: 3, Type: TypeReceipt, Delta: 10, Kind: RegularKind()},
		{ItemID: 999, LocationID: 3, Type: TypeReceipt, Delta: 4, Kind: RegularKind()},
	}
	_, err := eng.BatchCreateAdjustments(context.Background(), 1, 42, reqs, time.Now(), "")
	var notFound *catalog.ItemNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Empty(t, repo.adjustments)
	require.Empty(t, repo.levels)
}

func TestBatchChunkFailureLeavesOtherChunksCommitted(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 8, 3)] = StockLevel{TenantID: 1, ItemID: 8, LocationID: 3, Quantity: 1}
	items := map[int64]catalog.Item{
		7: {ID: 7, TenantID: 1},
		8: {ID: 8, TenantID: 1},
	}
	// Chunk size 1 puts every request in its own transaction.
	eng := newTestEngine(repo, items, nil, EngineConfig{BatchChunkSize: 1, BatchConcurrency: 1})

	reqs := []AdjustmentRequest{
		{ItemID: 7, LocationID: 3, Type: TypeReceipt, Delta: 10, Kind: RegularKind()},
		{ItemID: 8, LocationID: 3, Type: TypeIssue, Delta: -5, Kind: RegularKind()},
		{ItemID: 7, LocationID: 5, Type: TypeReceipt, Delta: 2, Kind: RegularKind()},
	}
	result, err := eng.BatchCreateAdjustments(context.Background(), 1, 42, reqs, time.Now(), "")
	require.NoError(t, err)
	require.Equal(t, 2, result.SuccessCount)
	require.Equal(t, 1, result.FailureCount)
	require.Len(t, result.Skipped, 1)
	require.Equal(t, 1, result.Skipped[0].Offset)

	require.Equal(t, int64(10), repo.levels[levelKey(1, 7, 3)].Quantity)
	require.Equal(t, int64(1), repo.levels[levelKey(1, 8, 3)].Quantity)
	require.Equal(t, int64(2), repo.levels[levelKey(1, 7, 5)].Quantity)
}

func TestBatchExceedingCeilingRejected(t *testing.T) {
	repo := newMemoryRepo()
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7}}, nil, EngineConfig{MaxBatchItems: 2})

	reqs := []AdjustmentRequest{
		{ItemID: 7, LocationID: 3, Type: TypeReceipt, Delta: 1, Kind: RegularKind()},
		{ItemID: 7, LocationID: 4, Type: TypeReceipt, Delta: 1, Kind: RegularKind()},
		{ItemID: 7, LocationID: 5, Type: TypeReceipt, Delta: 1, Kind: RegularKind()},
	}
	_, err := eng.BatchCreateAdjustments(context.Background(), 1, 42, reqs, time.Now(), "")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.Empty(t, repo.adjustments)
}

func TestBatchWithTransfers(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 10}
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, nil, EngineConfig{})

	reqs := []AdjustmentRequest{
		{ItemID: 7, LocationID: 3, Type: TypeTransfer, Delta: -4, Kind: TransferKind(5)},
	}
	result, err := eng.BatchCreateAdjustments(context.Background(), 1, 42, reqs, time.Now(), "")
	require.NoError(t, err)
	require.Len(t, result.Adjustments, 2)
	require.Equal(t, int64(6), repo.levels[levelKey(1, 7, 3)].Quantity)
	require.Equal(t, int64(4), repo.levels[levelKey(1, 7, 5)].Quantity)
}

func TestQuotaDenialSurfaces(t *testing.T) {
	repo := newMemoryRepo()
	quotas := &fakeQuotas{denyWith: &quota.ExceededError{Type: quota.TypeOperationsPerMinute, TenantID: 1, CurrentUsage: 121, Limit: 120}}
	eng := NewEngine(discardLogger(), repo, staticItems{items: map[int64]catalog.Item{7: {ID: 7}}}, quotas, cache.NewManager(cache.Config{}, nil), nil, nil, nil, EngineConfig{})

	_, err := eng.CreateAdjustment(context.Background(), 1, 42, AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeReceipt, Delta: 1, Kind: RegularKind()}, "")
	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Empty(t, repo.adjustments)
}

func newIdempotentTestEngine(repo *memoryRepo, items map[int64]catalog.Item, idem IdempotencyPort, cfg EngineConfig) *Engine {
	return NewEngine(discardLogger(), repo, staticItems{items: items}, &fakeQuotas{}, cache.NewManager(cache.Config{}, nil), idem, nil, nil, cfg)
}

func TestIdempotencyKeyDeduplicatesWrites(t *testing.T) {
	repo := newMemoryRepo()
	idem := newMemoryIdempotency()
	eng := newIdempotentTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, idem, EngineConfig{})
	ctx := context.Background()

	req := AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeReceipt, Delta: 10, Kind: RegularKind()}
	_, err := eng.CreateAdjustment(ctx, 1, 42, req, "req-1")
	require.NoError(t, err)
	require.True(t, idem.keys["req-1"])

	_, err = eng.CreateAdjustment(ctx, 1, 42, req, "req-1")
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, repo.adjustments, 1)
}

func TestIdempotencyKeyReleasedOnRollback(t *testing.T) {
	repo := newMemoryRepo()
	idem := newMemoryIdempotency()
	eng := newIdempotentTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, idem, EngineConfig{})
	ctx := context.Background()

	_, err := eng.CreateAdjustment(ctx, 1, 42, AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeIssue, Delta: -5, Kind: RegularKind()}, "req-2")
	var negative *NegativeStockError
	require.ErrorAs(t, err, &negative)

	// The failed write must free the key so the client can retry.
	require.False(t, idem.keys["req-2"])
	require.Contains(t, idem.released, "req-2")

	_, err = eng.CreateAdjustment(ctx, 1, 42, AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeReceipt, Delta: 5, Kind: RegularKind()}, "req-2")
	require.NoError(t, err)
}

func TestIdempotencyKeyReleasedOnFailedTransfer(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 10}
	repo.txFail = errors.New("ledger insert failed")
	idem := newMemoryIdempotency()
	eng := newIdempotentTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, idem, EngineConfig{})
	ctx := context.Background()

	// Pre-flight passes; the transaction itself fails and rolls back, so the
	// key must be freed for a retry.
	_, err := eng.CreateTransfer(ctx, 1, 42, 7, 3, 4, 5, TransferOptions{}, "xfer-1")
	require.Error(t, err)
	require.False(t, idem.keys["xfer-1"])
	require.Contains(t, idem.released, "xfer-1")

	repo.txFail = nil
	_, err = eng.CreateTransfer(ctx, 1, 42, 7, 3, 4, 5, TransferOptions{}, "xfer-1")
	require.NoError(t, err)
}

func TestBatchKeepsKeyAfterPartialCommit(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 10}
	idem := newMemoryIdempotency()
	eng := newIdempotentTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, idem, EngineConfig{BatchChunkSize: 1, BatchConcurrency: 1})
	ctx := context.Background()

	reqs := []AdjustmentRequest{
		{ItemID: 7, LocationID: 3, Type: TypeReceipt, Delta: 1, Kind: RegularKind()},
		{ItemID: 7, LocationID: 3, Type: TypeIssue, Delta: -100, Kind: RegularKind()},
	}
	result, err := eng.BatchCreateAdjustments(ctx, 1, 42, reqs, time.Now(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, 1, result.SuccessCount)
	require.Equal(t, 1, result.FailureCount)

	// Committed chunks stay committed, so replaying the batch must conflict
	// rather than double-apply the successful chunk.
	require.True(t, idem.keys["batch-1"])
	_, err = eng.BatchCreateAdjustments(ctx, 1, 42, reqs, time.Now(), "batch-1")
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
}

func TestGetStockLevelUsesCache(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 9}
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7}}, nil, EngineConfig{})
	ctx := context.Background()

	first, err := eng.GetStockLevel(ctx, 1, 7, 3)
	require.NoError(t, err)
	second, err := eng.GetStockLevel(ctx, 1, 7, 3)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.levelReads)
}

func TestWriteInvalidatesCachedLevel(t *testing.T) {
	repo := newMemoryRepo()
	repo.levels[levelKey(1, 7, 3)] = StockLevel{TenantID: 1, ItemID: 7, LocationID: 3, Quantity: 9}
	eng := newTestEngine(repo, map[int64]catalog.Item{7: {ID: 7, TenantID: 1}}, nil, EngineConfig{})
	ctx := context.Background()

	level, err := eng.GetStockLevel(ctx, 1, 7, 3)
	require.NoError(t, err)
	require.Equal(t, int64(9), level.Quantity)

	_, err = eng.CreateAdjustment(ctx, 1, 42, AdjustmentRequest{ItemID: 7, LocationID: 3, Type: TypeReceipt, Delta: 1, Kind: RegularKind()}, "")
	require.NoError(t, err)

	level, err = eng.GetStockLevel(ctx, 1, 7, 3)
	require.NoError(t, err)
	require.Equal(t, int64(10), level.Quantity)
}
