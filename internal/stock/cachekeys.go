package stock

import (
	"fmt"
	"strings"
)

// Cache key layout. The segment before the first colon is the metrics
// prefix, and list keys share a tenant-scoped prefix so one write can
// invalidate every cached page for that tenant.

func stockKey(tenantID, itemID, locationID int64) string {
	return fmt.Sprintf("stock:%d:%d:%d", tenantID, itemID, locationID)
}

func itemKey(tenantID, itemID int64) string {
	return fmt.Sprintf("item:%d:%d", tenantID, itemID)
}

func adjustmentKey(tenantID int64, id string) string {
	return fmt.Sprintf("adj:%d:%s", tenantID, id)
}

func listPrefix(tenantID int64) string {
	return fmt.Sprintf("list:%d:", tenantID)
}

func adjustmentListKey(tenantID int64, filter ListFilter, page, pageSize int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%sadj:%d:%d:%d:%d:%s", listPrefix(tenantID), filter.ItemID, filter.LocationID, page, pageSize, filter.Type)
	if !filter.From.IsZero() {
		fmt.Fprintf(&b, ":f%d", filter.From.Unix())
	}
	if !filter.To.IsZero() {
		fmt.Fprintf(&b, ":t%d", filter.To.Unix())
	}
	return b.String()
}

func levelListKey(tenantID int64, filter LevelFilter, page, pageSize int) string {
	low := 0
	if filter.LowStockOnly {
		low = 1
	}
	return fmt.Sprintf("%slevel:%d:%d:%d:%d:%d", listPrefix(tenantID), filter.ItemID, filter.LocationID, low, page, pageSize)
}
