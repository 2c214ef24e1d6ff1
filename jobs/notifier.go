package jobs

import (
	"context"

	"github.com/meridian-pos/meridian/internal/stock"
)

// LowStockNotifier bridges the stock engine to the task queue. It satisfies
// stock.Notifier, so alerts are delivered asynchronously and a broker outage
// never rolls back a committed adjustment.
type LowStockNotifier struct {
	client *Client
}

// NewLowStockNotifier constructs the notifier.
func NewLowStockNotifier(client *Client) *LowStockNotifier {
	return &LowStockNotifier{client: client}
}

// NotifyLowStock enqueues a low-stock alert task.
func (n *LowStockNotifier) NotifyLowStock(ctx context.Context, event stock.LowStockEvent) error {
	_, err := n.client.EnqueueLowStockAlert(ctx, LowStockAlertPayload{
		TenantID:   event.TenantID,
		ItemID:     event.ItemID,
		LocationID: event.LocationID,
		Quantity:   event.Quantity,
		Threshold:  event.Threshold,
		OccurredAt: event.OccurredAt,
	})
	return err
}
