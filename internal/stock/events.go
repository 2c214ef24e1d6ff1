package stock

import (
	"context"
	"time"
)

// LowStockEvent is emitted after a committed adjustment drops a stock level
// to or below its threshold.
type LowStockEvent struct {
	TenantID   int64     `json:"tenant_id"`
	ItemID     int64     `json:"item_id"`
	LocationID int64     `json:"location_id"`
	Quantity   int64     `json:"quantity"`
	Threshold  int64     `json:"threshold"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier receives stock signals after commit. Implementations must not be
// invoked inside a transaction body.
type Notifier interface {
	NotifyLowStock(ctx context.Context, event LowStockEvent) error
}
