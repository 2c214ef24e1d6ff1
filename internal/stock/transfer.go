package stock

import (
	"context"
	"time"
)

// TransferCoordinator composes a source debit and a target credit into one
// transaction, producing two linked ledger entries.
type TransferCoordinator struct {
	ops *OperationService
}

// NewTransferCoordinator constructs TransferCoordinator.
func NewTransferCoordinator(ops *OperationService) *TransferCoordinator {
	return &TransferCoordinator{ops: ops}
}

// TransferSource identifies the debit side of a transfer together with the
// quantity the caller last observed there. The observed quantity only feeds
// the cheap fail-fast check; the authoritative check happens inside the
// transaction against the freshly-read value.
type TransferSource struct {
	TenantID         int64
	ItemID           int64
	LocationID       int64
	CurrentQuantity  int64
	DefaultThreshold int64
}

// TransferOptions carries optional transfer metadata.
type TransferOptions struct {
	Reason string
	Date   time.Time
}

// TransferResult pairs the two committed ledger entries of one transfer.
type TransferResult struct {
	SourceAdjustment Adjustment
	TargetAdjustment Adjustment
}

// Validate enforces the preconditions checked before any transaction opens:
// positive quantity, distinct locations, and enough observed stock.
func (c *TransferCoordinator) Validate(src TransferSource, targetLocationID, quantity int64) error {
	if quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "transfer quantity must be positive"}
	}
	if targetLocationID == src.LocationID {
		return &ValidationError{Field: "targetLocationId", Message: "transfer target must differ from source location"}
	}
	if quantity > src.CurrentQuantity {
		return &NegativeStockError{
			TenantID:   src.TenantID,
			ItemID:     src.ItemID,
			LocationID: src.LocationID,
			Current:    src.CurrentQuantity,
			Requested:  -quantity,
		}
	}
	return nil
}

// ExecuteTransfer debits the source and credits the target inside the given
// transaction. Both stock level writes and both ledger entries commit
// together or not at all. The source entry is a TRANSFER with the target
// recorded on it; the target entry is a RECEIPT pointing back at the source.
func (c *TransferCoordinator) ExecuteTransfer(ctx context.Context, tx TxRepository, src TransferSource, targetLocationID, quantity, actorID int64, opts TransferOptions) (TransferResult, error) {
	source, err := c.ops.GetOrCreateStockLevel(ctx, tx, src.TenantID, src.ItemID, src.LocationID, src.DefaultThreshold)
	if err != nil {
		return TransferResult{}, err
	}
	newSourceQty := source.Level.Quantity - quantity
	if newSourceQty < 0 {
		return TransferResult{}, &NegativeStockError{
			TenantID:   src.TenantID,
			ItemID:     src.ItemID,
			LocationID: src.LocationID,
			Current:    source.Level.Quantity,
			Requested:  -quantity,
		}
	}

	sourceAdj, err := c.ops.CreateAdjustmentRecord(ctx, tx, AdjustmentDetails{
		TenantID:             src.TenantID,
		ItemID:               src.ItemID,
		LocationID:           src.LocationID,
		Type:                 TypeTransfer,
		QuantityAdjusted:     -quantity,
		BeforeQuantity:       source.Level.Quantity,
		Reason:               opts.Reason,
		AdjustmentDate:       opts.Date,
		OperatorID:           actorID,
		TransferToLocationID: targetLocationID,
	})
	if err != nil {
		return TransferResult{}, err
	}
	if err := c.ops.UpdateStockLevel(ctx, tx, source, newSourceQty, -1, actorID); err != nil {
		return TransferResult{}, err
	}

	target, err := c.ops.GetOrCreateStockLevel(ctx, tx, src.TenantID, src.ItemID, targetLocationID, src.DefaultThreshold)
	if err != nil {
		return TransferResult{}, err
	}
	targetAdj, err := c.ops.CreateAdjustmentRecord(ctx, tx, AdjustmentDetails{
		TenantID:             src.TenantID,
		ItemID:               src.ItemID,
		LocationID:           targetLocationID,
		Type:                 TypeReceipt,
		QuantityAdjusted:     quantity,
		BeforeQuantity:       target.Level.Quantity,
		Reason:               opts.Reason,
		AdjustmentDate:       opts.Date,
		OperatorID:           actorID,
		TransferToLocationID: src.LocationID,
	})
	if err != nil {
		return TransferResult{}, err
	}
	if err := c.ops.UpdateStockLevel(ctx, tx, target, target.Level.Quantity+quantity, -1, actorID); err != nil {
		return TransferResult{}, err
	}

	return TransferResult{SourceAdjustment: sourceAdj, TargetAdjustment: targetAdj}, nil
}
