package stock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OperationService is the primitive both regular adjustments and transfers
// build on. It carries no validation or business policy and runs only
// against an active transaction handle.
type OperationService struct{}

// NewOperationService constructs OperationService.
func NewOperationService() *OperationService {
	return &OperationService{}
}

// LevelHandle is the result of resolving a stock level inside a transaction.
// IsNew means the row does not exist yet; the caller decides whether to
// materialise it.
type LevelHandle struct {
	Level StockLevel
	IsNew bool
}

// GetOrCreateStockLevel reads the unique (tenant, item, location) row with a
// row lock. When absent it returns a zero-quantity placeholder carrying the
// default threshold, without writing anything.
func (s *OperationService) GetOrCreateStockLevel(ctx context.Context, tx TxRepository, tenantID, itemID, locationID, defaultThreshold int64) (LevelHandle, error) {
	level, err := tx.GetStockLevelForUpdate(ctx, tenantID, itemID, locationID)
	if err != nil {
		if errors.Is(err, ErrStockLevelNotFound) {
			return LevelHandle{
				Level: StockLevel{
					TenantID:          tenantID,
					ItemID:            itemID,
					LocationID:        locationID,
					LowStockThreshold: defaultThreshold,
				},
				IsNew: true,
			}, nil
		}
		return LevelHandle{}, err
	}
	return LevelHandle{Level: level}, nil
}

// AdjustmentDetails describes one ledger entry to stage.
type AdjustmentDetails struct {
	TenantID             int64
	ItemID               int64
	LocationID           int64
	Type                 AdjustmentType
	QuantityAdjusted     int64
	BeforeQuantity       int64
	Reason               string
	AdjustmentDate       time.Time
	OperatorID           int64
	TransferToLocationID int64
}

// CreateAdjustmentRecord builds a ledger entry with a fresh id and stages it
// in the transaction write buffer. Pure data construction otherwise.
func (s *OperationService) CreateAdjustmentRecord(ctx context.Context, tx TxRepository, details AdjustmentDetails) (Adjustment, error) {
	at := details.AdjustmentDate
	if at.IsZero() {
		at = time.Now().UTC()
	}
	adj := Adjustment{
		ID:                   uuid.NewString(),
		TenantID:             details.TenantID,
		ItemID:               details.ItemID,
		LocationID:           details.LocationID,
		Type:                 details.Type,
		QuantityAdjusted:     details.QuantityAdjusted,
		BeforeQuantity:       details.BeforeQuantity,
		AfterQuantity:        details.BeforeQuantity + details.QuantityAdjusted,
		Reason:               details.Reason,
		AdjustmentDate:       at,
		OperatorID:           details.OperatorID,
		TransferToLocationID: details.TransferToLocationID,
		CreatedAt:            time.Now().UTC(),
	}
	if err := tx.InsertAdjustment(ctx, adj); err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}

// UpdateStockLevel stages a create (isNew) or update of the stock level row.
// This is the single enforcement point for the non-negativity invariant at
// the storage-write boundary: a negative quantity fails here and aborts the
// surrounding transaction.
func (s *OperationService) UpdateStockLevel(ctx context.Context, tx TxRepository, handle LevelHandle, quantity, threshold, actorID int64) error {
	if quantity < 0 {
		return &NegativeStockError{
			TenantID:   handle.Level.TenantID,
			ItemID:     handle.Level.ItemID,
			LocationID: handle.Level.LocationID,
			Current:    handle.Level.Quantity,
			Requested:  quantity - handle.Level.Quantity,
		}
	}
	level := handle.Level
	level.Quantity = quantity
	if threshold >= 0 {
		level.LowStockThreshold = threshold
	}
	level.LastUpdatedBy = actorID
	if handle.IsNew {
		return tx.InsertStockLevel(ctx, level)
	}
	return tx.UpdateStockLevel(ctx, level)
}
