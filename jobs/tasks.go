package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-pos/meridian/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockAlert fans out low-stock notifications after a commit
	// drops a level to or below its threshold.
	TaskLowStockAlert = "stock:low_alert"
	// TaskRetentionCleanup prunes expired idempotency keys.
	TaskRetentionCleanup = "maintenance:retention_cleanup"
)

// LowStockAlertPayload describes a level that crossed its threshold.
type LowStockAlertPayload struct {
	TenantID   int64     `json:"tenantId"`
	ItemID     int64     `json:"itemId"`
	LocationID int64     `json:"locationId"`
	Quantity   int64     `json:"quantity"`
	Threshold  int64     `json:"threshold"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewLowStockAlertTask constructs an Asynq task.
func NewLowStockAlertTask(payload LowStockAlertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockAlert, data, asynq.Queue(QueueDefault)), nil
}

// NewLowStockAlertHandler returns the handler for TaskLowStockAlert tasks.
// Delivery channels (mail, webhooks) hang off this single point later; for
// now the alert lands in the structured log.
func NewLowStockAlertHandler(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LowStockAlertPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Warn("low stock alert",
			slog.Int64("tenant_id", payload.TenantID),
			slog.Int64("item_id", payload.ItemID),
			slog.Int64("location_id", payload.LocationID),
			slog.Int64("quantity", payload.Quantity),
			slog.Int64("threshold", payload.Threshold))
		return nil
	}
}

// RetentionCleanupPayload carries the retention window.
type RetentionCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewRetentionCleanupTask constructs the cron task pruning stale state.
func NewRetentionCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(RetentionCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRetentionCleanup, data, asynq.Queue(QueueDefault)), nil
}

// NewRetentionCleanupHandler returns the handler for TaskRetentionCleanup.
func NewRetentionCleanupHandler(store *shared.IdempotencyStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RetentionCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention <= 0 {
			payload.Retention = 7 * 24 * time.Hour
		}
		removed, err := store.Cleanup(ctx, payload.Retention)
		if err != nil {
			return err
		}
		logger.Info("retention cleanup",
			slog.Int64("removed", removed),
			slog.Duration("retention", payload.Retention))
		return nil
	}
}
