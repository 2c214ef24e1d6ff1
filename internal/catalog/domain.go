// Package catalog exposes read-only access to inventory items. Item and
// category management belongs to the catalog subsystem; the stock engine
// only resolves items and their default low-stock thresholds.
package catalog

import (
	"fmt"
	"time"
)

// Item is an inventory item owned by the catalog subsystem.
type Item struct {
	ID                int64
	TenantID          int64
	SKU               string
	Name              string
	LowStockThreshold int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ItemNotFoundError indicates the referenced item does not exist for the tenant.
type ItemNotFoundError struct {
	TenantID int64
	ItemID   int64
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("catalog: item %d not found for tenant %d", e.ItemID, e.TenantID)
}
