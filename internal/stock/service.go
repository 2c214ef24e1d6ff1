package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-pos/meridian/internal/cache"
	"github.com/meridian-pos/meridian/internal/catalog"
	"github.com/meridian-pos/meridian/internal/quota"
	"github.com/meridian-pos/meridian/internal/shared"
)

// RepositoryPort abstracts repository usage for the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockLevel(ctx context.Context, tenantID, itemID, locationID int64) (StockLevel, error)
	ListStockLevels(ctx context.Context, tenantID int64, filter LevelFilter, page shared.Pagination) ([]StockLevel, int, error)
	GetAdjustment(ctx context.Context, tenantID int64, id string) (Adjustment, error)
	ListAdjustments(ctx context.Context, tenantID int64, filter ListFilter, page shared.Pagination) ([]Adjustment, int, error)
}

// ItemResolver resolves catalog items, injected at construction instead of
// reaching into the catalog service at call time.
type ItemResolver interface {
	GetItem(ctx context.Context, tenantID, itemID int64) (catalog.Item, error)
	GetItems(ctx context.Context, tenantID int64, itemIDs []int64) (map[int64]catalog.Item, error)
}

// QuotaPort abstracts the tenant quota limiter.
type QuotaPort interface {
	EnforceQuota(ctx context.Context, typ quota.Type, tenantID int64) error
	EnforceBatchSize(tenantID int64, size int) error
	AcquireTx(tenantID int64) (func(), error)
}

// MetricsRecorder receives engine telemetry.
type MetricsRecorder interface {
	RecordAdjustment(adjustmentType, outcome string)
	RecordChunkSplit()
}

// IdempotencyPort deduplicates writes by client-supplied key. CheckAndInsert
// returns shared.ErrIdempotencyConflict when the key was already claimed.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// EngineConfig groups tunables for the adjustment engine.
type EngineConfig struct {
	// MaxBatchItems caps one batch request; pre-flight rejects larger
	// batches before any write. Default 100.
	MaxBatchItems int
	// BatchChunkSize is the number of items applied per shared transaction.
	// Default 25.
	BatchChunkSize int
	// BatchConcurrency caps parallel chunk transactions. Default 5.
	BatchConcurrency int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.MaxBatchItems <= 0 {
		c.MaxBatchItems = 100
	}
	if c.BatchChunkSize <= 0 {
		c.BatchChunkSize = 25
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 5
	}
	return c
}

// Engine is the public-facing orchestrator for stock adjustments. It
// validates input, enforces quotas, delegates to the operation service or
// transfer coordinator inside one transaction, and invalidates caches only
// after the transaction commits.
type Engine struct {
	logger      *slog.Logger
	repo        RepositoryPort
	items       ItemResolver
	ops         *OperationService
	transfers   *TransferCoordinator
	quotas      QuotaPort
	cache       *cache.Manager
	idempotency IdempotencyPort
	notifier    Notifier
	metrics     MetricsRecorder
	cfg         EngineConfig
}

// NewEngine builds the adjustment engine. quotas, idempotency, notifier and
// metrics may be nil; the engine degrades to plain transactional behaviour
// without them. The cache manager is required.
func NewEngine(logger *slog.Logger, repo RepositoryPort, items ItemResolver, quotas QuotaPort, cacheManager *cache.Manager, idem IdempotencyPort, notifier Notifier, metrics MetricsRecorder, cfg EngineConfig) *Engine {
	ops := NewOperationService()
	return &Engine{
		logger:      logger,
		repo:        repo,
		items:       items,
		ops:         ops,
		transfers:   NewTransferCoordinator(ops),
		quotas:      quotas,
		cache:       cacheManager,
		idempotency: idem,
		notifier:    notifier,
		metrics:     metrics,
		cfg:         cfg.withDefaults(),
	}
}

// AdjustmentPage is one page of ledger entries.
type AdjustmentPage struct {
	Adjustments []Adjustment
	Pagination  shared.Pagination
}

// LevelPage is one page of stock levels.
type LevelPage struct {
	Levels     []StockLevel
	Pagination shared.Pagination
}

// BatchResult aggregates a batch call. Chunks are independent transactions:
// committed chunks stay committed even when later chunks fail.
type BatchResult struct {
	Adjustments  []Adjustment
	SuccessCount int
	FailureCount int
	Skipped      []BatchFailure
}

// BatchFailure reports one failed chunk with the offset of its first item.
type BatchFailure struct {
	Offset int
	Reason string
}

// CreateAdjustment applies one regular adjustment. Transfers go through
// CreateTransfer; a request carrying a transfer kind is rejected here.
func (e *Engine) CreateAdjustment(ctx context.Context, tenantID, operatorID int64, req AdjustmentRequest, idempotencyKey string) (Adjustment, error) {
	if _, isTransfer := req.Kind.Transfer(); isTransfer || req.Type == TypeTransfer {
		return Adjustment{}, &ValidationError{Field: "type", Message: "transfers require a target location, use the transfer operation"}
	}
	if err := validateRequest(req); err != nil {
		return Adjustment{}, err
	}
	if err := e.enforceWriteQuotas(ctx, tenantID); err != nil {
		return Adjustment{}, err
	}
	item, err := e.items.GetItem(ctx, tenantID, req.ItemID)
	if err != nil {
		return Adjustment{}, err
	}

	insertedKey, err := e.claimIdempotency(ctx, idempotencyKey)
	if err != nil {
		return Adjustment{}, err
	}

	release, err := e.acquireTx(tenantID)
	if err != nil {
		e.releaseIdempotency(ctx, idempotencyKey, insertedKey)
		return Adjustment{}, err
	}
	defer release()

	var adj Adjustment
	var event *LowStockEvent
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var txErr error
		adj, event, txErr = e.applyAdjustment(ctx, tx, tenantID, operatorID, item, req)
		return txErr
	})
	if err != nil {
		e.releaseIdempotency(ctx, idempotencyKey, insertedKey)
		e.recordAdjustment(req.Type, outcomeFor(err))
		return Adjustment{}, err
	}

	e.invalidateAfterWrite(tenantID, []int64{req.ItemID}, []int64{req.LocationID})
	e.emitLowStock(ctx, event)
	e.recordAdjustment(req.Type, "committed")
	e.logger.Info("stock adjustment committed",
		slog.Int64("tenant_id", tenantID),
		slog.Int64("item_id", req.ItemID),
		slog.Int64("location_id", req.LocationID),
		slog.String("type", string(req.Type)),
		slog.Int64("delta", req.Delta),
		slog.Int64("after", adj.AfterQuantity))
	return adj, nil
}

// CreateTransfer moves quantity between two locations for one item. Both
// ledger entries and both stock level writes commit atomically.
func (e *Engine) CreateTransfer(ctx context.Context, tenantID, operatorID, itemID, sourceLocationID, targetLocationID, quantity int64, opts TransferOptions, idempotencyKey string) (TransferResult, error) {
	if err := e.enforceWriteQuotas(ctx, tenantID); err != nil {
		return TransferResult{}, err
	}
	item, err := e.items.GetItem(ctx, tenantID, itemID)
	if err != nil {
		return TransferResult{}, err
	}

	// Cheap fail-fast against the last observed quantity. The authoritative
	// check re-runs inside the transaction against the freshly-read value.
	observed := int64(0)
	if level, err := e.repo.GetStockLevel(ctx, tenantID, itemID, sourceLocationID); err == nil {
		observed = level.Quantity
	} else if !errors.Is(err, ErrStockLevelNotFound) {
		return TransferResult{}, err
	}
	src := TransferSource{
		TenantID:         tenantID,
		ItemID:           itemID,
		LocationID:       sourceLocationID,
		CurrentQuantity:  observed,
		DefaultThreshold: item.LowStockThreshold,
	}
	if err := e.transfers.Validate(src, targetLocationID, quantity); err != nil {
		e.recordAdjustment(TypeTransfer, outcomeFor(err))
		return TransferResult{}, err
	}

	insertedKey, err := e.claimIdempotency(ctx, idempotencyKey)
	if err != nil {
		return TransferResult{}, err
	}
	release, err := e.acquireTx(tenantID)
	if err != nil {
		e.releaseIdempotency(ctx, idempotencyKey, insertedKey)
		return TransferResult{}, err
	}
	defer release()

	var result TransferResult
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var txErr error
		result, txErr = e.transfers.ExecuteTransfer(ctx, tx, src, targetLocationID, quantity, operatorID, opts)
		return txErr
	})
	if err != nil {
		e.releaseIdempotency(ctx, idempotencyKey, insertedKey)
		e.recordAdjustment(TypeTransfer, outcomeFor(err))
		return TransferResult{}, err
	}

	e.invalidateAfterWrite(tenantID, []int64{itemID}, []int64{sourceLocationID, targetLocationID})
	e.recordAdjustment(TypeTransfer, "committed")
	e.logger.Info("stock transfer committed",
		slog.Int64("tenant_id", tenantID),
		slog.Int64("item_id", itemID),
		slog.Int64("source_location_id", sourceLocationID),
		slog.Int64("target_location_id", targetLocationID),
		slog.Int64("quantity", quantity))
	return result, nil
}

// BatchCreateAdjustments applies many adjustments. Pre-flight validation
// (size ceiling, known types, existing items) runs once before any chunk;
// a pre-flight failure aborts the whole batch with zero writes. Each chunk
// then runs in one shared transaction; chunks are isolated from each other.
func (e *Engine) BatchCreateAdjustments(ctx context.Context, tenantID, operatorID int64, reqs []AdjustmentRequest, date time.Time, idempotencyKey string) (BatchResult, error) {
	if len(reqs) == 0 {
		return BatchResult{}, &ValidationError{Field: "adjustments", Message: "batch must not be empty"}
	}
	if len(reqs) > e.cfg.MaxBatchItems {
		return BatchResult{}, &ValidationError{Field: "adjustments", Message: fmt.Sprintf("batch of %d exceeds limit %d", len(reqs), e.cfg.MaxBatchItems)}
	}
	if e.quotas != nil {
		if err := e.quotas.EnforceBatchSize(tenantID, len(reqs)); err != nil {
			return BatchResult{}, err
		}
	}
	if err := e.enforceWriteQuotas(ctx, tenantID); err != nil {
		return BatchResult{}, err
	}

	itemIDs := make([]int64, 0, len(reqs))
	seen := make(map[int64]struct{}, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		if req.Date.IsZero() {
			req.Date = date
		}
		if err := validateRequest(*req); err != nil {
			return BatchResult{}, err
		}
		if _, ok := seen[req.ItemID]; !ok {
			seen[req.ItemID] = struct{}{}
			itemIDs = append(itemIDs, req.ItemID)
		}
	}
	itemsByID, err := e.items.GetItems(ctx, tenantID, itemIDs)
	if err != nil {
		return BatchResult{}, err
	}
	for _, id := range itemIDs {
		if _, ok := itemsByID[id]; !ok {
			return BatchResult{}, &catalog.ItemNotFoundError{TenantID: tenantID, ItemID: id}
		}
	}

	insertedKey, err := e.claimIdempotency(ctx, idempotencyKey)
	if err != nil {
		return BatchResult{}, err
	}

	itemSet := make(map[int64]struct{})
	locationSet := make(map[int64]struct{})

	chunkFn := func(ctx context.Context, chunk []AdjustmentRequest) ([]Adjustment, error) {
		release, err := e.acquireTx(tenantID)
		if err != nil {
			return nil, err
		}
		defer release()

		var committed []Adjustment
		var events []*LowStockEvent
		err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			// Reset accumulators: the transaction body may be re-run on conflict.
			committed = committed[:0]
			events = events[:0]
			for _, req := range chunk {
				item := itemsByID[req.ItemID]
				if target, isTransfer := req.Kind.Transfer(); isTransfer {
					result, txErr := e.transfers.ExecuteTransfer(ctx, tx, TransferSource{
						TenantID:         tenantID,
						ItemID:           req.ItemID,
						LocationID:       req.LocationID,
						CurrentQuantity:  -req.Delta,
						DefaultThreshold: item.LowStockThreshold,
					}, target, -req.Delta, operatorID, TransferOptions{Reason: req.Reason, Date: req.Date})
					if txErr != nil {
						return txErr
					}
					committed = append(committed, result.SourceAdjustment, result.TargetAdjustment)
					continue
				}
				adj, event, txErr := e.applyAdjustment(ctx, tx, tenantID, operatorID, item, req)
				if txErr != nil {
					return txErr
				}
				committed = append(committed, adj)
				events = append(events, event)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		for _, event := range events {
			e.emitLowStock(ctx, event)
		}
		return committed, nil
	}

	outcome, batchErr := ProcessBatches(ctx, reqs, e.cfg.BatchChunkSize, BatchOptions{
		MaxConcurrent: e.cfg.BatchConcurrency,
		OnSplit:       e.recordChunkSplit,
	}, chunkFn)

	for _, req := range outcome.ProcessedItems {
		itemSet[req.ItemID] = struct{}{}
		locationSet[req.LocationID] = struct{}{}
		if target, ok := req.Kind.Transfer(); ok {
			locationSet[target] = struct{}{}
		}
	}
	if len(itemSet) > 0 {
		e.invalidateAfterWrite(tenantID, keys(itemSet), keys(locationSet))
	}

	result := BatchResult{
		Adjustments:  outcome.Results,
		SuccessCount: outcome.SuccessCount,
		FailureCount: outcome.FailureCount,
	}
	for _, failure := range outcome.Errors {
		result.Skipped = append(result.Skipped, BatchFailure{Offset: failure.Offset, Reason: failure.Err.Error()})
	}
	if batchErr != nil {
		e.releaseIdempotency(ctx, idempotencyKey, insertedKey && result.SuccessCount == 0)
		return result, batchErr
	}
	e.logger.Info("stock batch processed",
		slog.Int64("tenant_id", tenantID),
		slog.Int("items", len(reqs)),
		slog.Int("succeeded", result.SuccessCount),
		slog.Int("failed", result.FailureCount))
	return result, nil
}

// UpsertStockLevel sets an absolute quantity, internally expressed as a
// STOCK_COUNT adjustment whose delta is the difference to the current value.
// A zero difference updates the threshold without writing a ledger entry.
func (e *Engine) UpsertStockLevel(ctx context.Context, tenantID, operatorID, itemID, locationID, quantity int64, threshold *int64) (StockLevel, error) {
	if quantity < 0 {
		return StockLevel{}, &ValidationError{Field: "quantity", Message: "quantity must not be negative"}
	}
	if threshold != nil && *threshold < 0 {
		return StockLevel{}, &ValidationError{Field: "lowStockThreshold", Message: "threshold must not be negative"}
	}
	if err := e.enforceWriteQuotas(ctx, tenantID); err != nil {
		return StockLevel{}, err
	}
	item, err := e.items.GetItem(ctx, tenantID, itemID)
	if err != nil {
		return StockLevel{}, err
	}

	release, err := e.acquireTx(tenantID)
	if err != nil {
		return StockLevel{}, err
	}
	defer release()

	var level StockLevel
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		handle, txErr := e.ops.GetOrCreateStockLevel(ctx, tx, tenantID, itemID, locationID, item.LowStockThreshold)
		if txErr != nil {
			return txErr
		}
		delta := quantity - handle.Level.Quantity
		if delta != 0 {
			if _, txErr := e.ops.CreateAdjustmentRecord(ctx, tx, AdjustmentDetails{
				TenantID:         tenantID,
				ItemID:           itemID,
				LocationID:       locationID,
				Type:             TypeStockCount,
				QuantityAdjusted: delta,
				BeforeQuantity:   handle.Level.Quantity,
				OperatorID:       operatorID,
			}); txErr != nil {
				return txErr
			}
		}
		newThreshold := int64(-1)
		if threshold != nil {
			newThreshold = *threshold
		}
		if txErr := e.ops.UpdateStockLevel(ctx, tx, handle, quantity, newThreshold, operatorID); txErr != nil {
			return txErr
		}
		level = handle.Level
		level.Quantity = quantity
		if threshold != nil {
			level.LowStockThreshold = *threshold
		}
		level.LastUpdatedBy = operatorID
		return nil
	})
	if err != nil {
		e.recordAdjustment(TypeStockCount, outcomeFor(err))
		return StockLevel{}, err
	}

	e.invalidateAfterWrite(tenantID, []int64{itemID}, []int64{locationID})
	e.recordAdjustment(TypeStockCount, "committed")
	return level, nil
}

// GetAdjustment returns one ledger entry, cached in the long tier since
// ledger entries are immutable.
func (e *Engine) GetAdjustment(ctx context.Context, tenantID int64, id string) (Adjustment, error) {
	value, err := e.cache.Fetch(ctx, adjustmentKey(tenantID, id), cache.TierLong, func(ctx context.Context) (interface{}, error) {
		return e.repo.GetAdjustment(ctx, tenantID, id)
	})
	if err != nil {
		return Adjustment{}, err
	}
	return value.(Adjustment), nil
}

// ListAdjustments returns a page of ledger entries, cached briefly under a
// filter fingerprint so any tenant write can invalidate all list results.
func (e *Engine) ListAdjustments(ctx context.Context, tenantID int64, filter ListFilter, page, pageSize int) (AdjustmentPage, error) {
	key := adjustmentListKey(tenantID, filter, page, pageSize)
	value, err := e.cache.Fetch(ctx, key, cache.TierShort, func(ctx context.Context) (interface{}, error) {
		pagination := shared.NewPagination(page, pageSize, 0)
		adjustments, total, err := e.repo.ListAdjustments(ctx, tenantID, filter, pagination)
		if err != nil {
			return nil, err
		}
		return AdjustmentPage{Adjustments: adjustments, Pagination: shared.NewPagination(page, pageSize, total)}, nil
	})
	if err != nil {
		return AdjustmentPage{}, err
	}
	return value.(AdjustmentPage), nil
}

// GetStockLevel returns the current level, cached in the short tier.
func (e *Engine) GetStockLevel(ctx context.Context, tenantID, itemID, locationID int64) (StockLevel, error) {
	value, err := e.cache.Fetch(ctx, stockKey(tenantID, itemID, locationID), cache.TierShort, func(ctx context.Context) (interface{}, error) {
		return e.repo.GetStockLevel(ctx, tenantID, itemID, locationID)
	})
	if err != nil {
		return StockLevel{}, err
	}
	return value.(StockLevel), nil
}

// ListStockLevels returns a page of stock levels for the tenant.
func (e *Engine) ListStockLevels(ctx context.Context, tenantID int64, filter LevelFilter, page, pageSize int) (LevelPage, error) {
	key := levelListKey(tenantID, filter, page, pageSize)
	value, err := e.cache.Fetch(ctx, key, cache.TierShort, func(ctx context.Context) (interface{}, error) {
		pagination := shared.NewPagination(page, pageSize, 0)
		levels, total, err := e.repo.ListStockLevels(ctx, tenantID, filter, pagination)
		if err != nil {
			return nil, err
		}
		return LevelPage{Levels: levels, Pagination: shared.NewPagination(page, pageSize, total)}, nil
	})
	if err != nil {
		return LevelPage{}, err
	}
	return value.(LevelPage), nil
}

// applyAdjustment is the regular-adjustment transaction body shared by the
// single and batch paths. It stays side-effect free outside tx.
func (e *Engine) applyAdjustment(ctx context.Context, tx TxRepository, tenantID, operatorID int64, item catalog.Item, req AdjustmentRequest) (Adjustment, *LowStockEvent, error) {
	handle, err := e.ops.GetOrCreateStockLevel(ctx, tx, tenantID, req.ItemID, req.LocationID, item.LowStockThreshold)
	if err != nil {
		return Adjustment{}, nil, err
	}
	newQuantity := handle.Level.Quantity + req.Delta
	if newQuantity < 0 {
		return Adjustment{}, nil, &NegativeStockError{
			TenantID:   tenantID,
			ItemID:     req.ItemID,
			LocationID: req.LocationID,
			Current:    handle.Level.Quantity,
			Requested:  req.Delta,
		}
	}
	adj, err := e.ops.CreateAdjustmentRecord(ctx, tx, AdjustmentDetails{
		TenantID:         tenantID,
		ItemID:           req.ItemID,
		LocationID:       req.LocationID,
		Type:             req.Type,
		QuantityAdjusted: req.Delta,
		BeforeQuantity:   handle.Level.Quantity,
		Reason:           req.Reason,
		AdjustmentDate:   req.Date,
		OperatorID:       operatorID,
	})
	if err != nil {
		return Adjustment{}, nil, err
	}
	if err := e.ops.UpdateStockLevel(ctx, tx, handle, newQuantity, -1, operatorID); err != nil {
		return Adjustment{}, nil, err
	}

	threshold := handle.Level.LowStockThreshold
	var event *LowStockEvent
	if newQuantity <= threshold && handle.Level.Quantity > threshold {
		event = &LowStockEvent{
			TenantID:   tenantID,
			ItemID:     req.ItemID,
			LocationID: req.LocationID,
			Quantity:   newQuantity,
			Threshold:  threshold,
			OccurredAt: time.Now().UTC(),
		}
	}
	return adj, event, nil
}

func validateRequest(req AdjustmentRequest) error {
	if !req.Type.Known() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown adjustment type %q", req.Type)}
	}
	if req.Delta == 0 {
		return &ValidationError{Field: "delta", Message: "delta must not be zero"}
	}
	if req.ItemID == 0 || req.LocationID == 0 {
		return &ValidationError{Field: "itemId", Message: "item and location are required"}
	}
	if target, isTransfer := req.Kind.Transfer(); isTransfer {
		if req.Type != TypeTransfer {
			return &ValidationError{Field: "type", Message: "transfer kind requires type TRANSFER"}
		}
		if target == req.LocationID {
			return &ValidationError{Field: "targetLocationId", Message: "transfer target must differ from source location"}
		}
		// Sign convention: the source-side delta of a transfer is negative.
		if req.Delta >= 0 {
			return &ValidationError{Field: "delta", Message: "transfer delta must be negative on the source side"}
		}
	} else if req.Type == TypeTransfer {
		return &ValidationError{Field: "targetLocationId", Message: "type TRANSFER requires a target location"}
	}
	return nil
}

func (e *Engine) enforceWriteQuotas(ctx context.Context, tenantID int64) error {
	if e.quotas == nil {
		return nil
	}
	if err := e.quotas.EnforceQuota(ctx, quota.TypeOperationsPerMinute, tenantID); err != nil {
		return err
	}
	return e.quotas.EnforceQuota(ctx, quota.TypeAdjustmentsPerDay, tenantID)
}

func (e *Engine) acquireTx(tenantID int64) (func(), error) {
	if e.quotas == nil {
		return func() {}, nil
	}
	return e.quotas.AcquireTx(tenantID)
}

func (e *Engine) claimIdempotency(ctx context.Context, key string) (bool, error) {
	if e.idempotency == nil || key == "" {
		return false, nil
	}
	if err := e.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) releaseIdempotency(ctx context.Context, key string, inserted bool) {
	if !inserted || e.idempotency == nil {
		return
	}
	if err := e.idempotency.Delete(ctx, key); err != nil {
		e.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

// invalidateAfterWrite drops the affected stock level keys, the item keys,
// and every list fingerprint for the tenant. Coarse but correct: list
// results may reference the changed quantities.
func (e *Engine) invalidateAfterWrite(tenantID int64, itemIDs, locationIDs []int64) {
	if e.cache == nil {
		return
	}
	for _, itemID := range itemIDs {
		for _, locationID := range locationIDs {
			e.cache.Delete(stockKey(tenantID, itemID, locationID))
		}
		e.cache.Delete(itemKey(tenantID, itemID))
	}
	e.cache.InvalidateByPrefix(listPrefix(tenantID))
}

func (e *Engine) emitLowStock(ctx context.Context, event *LowStockEvent) {
	if event == nil || e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyLowStock(ctx, *event); err != nil {
		e.logger.Warn("notify low stock",
			slog.Int64("item_id", event.ItemID),
			slog.Int64("location_id", event.LocationID),
			slog.Any("error", err))
	}
}

func (e *Engine) recordAdjustment(adjustmentType AdjustmentType, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordAdjustment(string(adjustmentType), outcome)
}

func (e *Engine) recordChunkSplit() {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordChunkSplit()
}

func outcomeFor(err error) string {
	var negative *NegativeStockError
	var validation *ValidationError
	switch {
	case errors.As(err, &negative):
		return "rejected_negative"
	case errors.As(err, &validation):
		return "rejected_validation"
	default:
		return "failed"
	}
}

func keys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
