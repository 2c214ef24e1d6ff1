// Package stock tracks per-location quantities for inventory items and
// records every change as an immutable ledger entry. The current quantity of
// a stock level is always the running sum of its committed ledger deltas.
package stock

import (
	"fmt"
	"time"
)

// AdjustmentType enumerates supported ledger entry types.
type AdjustmentType string

const (
	// TypeReceipt represents inbound stock (delivery, transfer credit).
	TypeReceipt AdjustmentType = "RECEIPT"
	// TypeIssue represents outbound stock consumed by sales or kitchen use.
	TypeIssue AdjustmentType = "ISSUE"
	// TypeTransfer marks the debit side of a location-to-location move.
	TypeTransfer AdjustmentType = "TRANSFER"
	// TypeStockCount records an absolute recount expressed as a delta.
	TypeStockCount AdjustmentType = "STOCK_COUNT"
	// TypeWastage records spoilage or breakage.
	TypeWastage AdjustmentType = "WASTAGE"
	// TypeReturn records stock returned by a customer or to a supplier.
	TypeReturn AdjustmentType = "RETURN"
)

// Known reports whether t is a recognised adjustment type.
func (t AdjustmentType) Known() bool {
	switch t {
	case TypeReceipt, TypeIssue, TypeTransfer, TypeStockCount, TypeWastage, TypeReturn:
		return true
	}
	return false
}

// StockLevel is the current quantity for an item at a location. Created
// lazily on first adjustment, mutated only inside an adjustment transaction,
// never deleted (quantity may reach zero but the row persists for history).
type StockLevel struct {
	TenantID          int64
	ItemID            int64
	LocationID        int64
	Quantity          int64
	LowStockThreshold int64
	LastUpdated       time.Time
	LastUpdatedBy     int64
}

// Adjustment is one immutable ledger entry. AfterQuantity is always
// BeforeQuantity + QuantityAdjusted and never negative.
type Adjustment struct {
	ID                   string
	TenantID             int64
	ItemID               int64
	LocationID           int64
	Type                 AdjustmentType
	QuantityAdjusted     int64
	BeforeQuantity       int64
	AfterQuantity        int64
	Reason               string
	AdjustmentDate       time.Time
	OperatorID           int64
	TransferToLocationID int64 // zero when not part of a transfer pair
	CreatedAt            time.Time
}

// AdjustmentKind distinguishes a regular adjustment from a transfer, decided
// once at the API boundary instead of inferring the branch from optional
// fields downstream.
type AdjustmentKind struct {
	transfer       bool
	targetLocation int64
}

// RegularKind builds the kind for a single-location adjustment.
func RegularKind() AdjustmentKind {
	return AdjustmentKind{}
}

// TransferKind builds the kind for a transfer towards targetLocation.
func TransferKind(targetLocation int64) AdjustmentKind {
	return AdjustmentKind{transfer: true, targetLocation: targetLocation}
}

// Transfer returns the target location when the kind is a transfer.
func (k AdjustmentKind) Transfer() (int64, bool) {
	return k.targetLocation, k.transfer
}

// AdjustmentRequest is one requested quantity change.
type AdjustmentRequest struct {
	ItemID     int64
	LocationID int64
	Type       AdjustmentType
	Delta      int64
	Kind       AdjustmentKind
	Reason     string
	Date       time.Time // zero means "now"
}

// ListFilter narrows ledger listings.
type ListFilter struct {
	ItemID     int64
	LocationID int64
	Type       AdjustmentType
	From       time.Time
	To         time.Time
}

// LevelFilter narrows stock level listings.
type LevelFilter struct {
	LocationID   int64
	ItemID       int64
	LowStockOnly bool
}

// NegativeStockError indicates the requested delta would drive the computed
// quantity below zero. The transaction aborts with no partial write.
type NegativeStockError struct {
	TenantID   int64
	ItemID     int64
	LocationID int64
	Current    int64
	Requested  int64
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("stock: adjustment of %d would drive item %d at location %d below zero (current %d)",
		e.Requested, e.ItemID, e.LocationID, e.Current)
}

// ValidationError indicates malformed adjustment input, rejected before any
// transaction opens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("stock: invalid input: %s", e.Message)
	}
	return fmt.Sprintf("stock: invalid %s: %s", e.Field, e.Message)
}
