package stock

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-pos/meridian/internal/platform/db"
	"github.com/meridian-pos/meridian/internal/shared"
)

// Repository persists stock levels and the adjustment ledger in PostgreSQL.
type Repository struct {
	runner *db.Runner
}

// NewRepository constructs Repository.
func NewRepository(runner *db.Runner) *Repository {
	return &Repository{runner: runner}
}

// TxRepository exposes the transactional operations available to the
// operation service. It only exists inside WithTx.
type TxRepository interface {
	GetStockLevelForUpdate(ctx context.Context, tenantID, itemID, locationID int64) (StockLevel, error)
	InsertStockLevel(ctx context.Context, level StockLevel) error
	UpdateStockLevel(ctx context.Context, level StockLevel) error
	InsertAdjustment(ctx context.Context, adj Adjustment) error
}

// ErrStockLevelNotFound indicates a missing stock level row.
var ErrStockLevelNotFound = errors.New("stock level not found")

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
// Serialization conflicts re-run the callback, so it must stay free of
// side effects outside the transaction handle.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (t *txRepository) GetStockLevelForUpdate(ctx context.Context, tenantID, itemID, locationID int64) (StockLevel, error) {
	var level StockLevel
	err := t.tx.QueryRow(ctx, `SELECT tenant_id, item_id, location_id, quantity, low_stock_threshold, last_updated, last_updated_by
FROM stock_levels WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3 FOR UPDATE`,
		tenantID, itemID, locationID).
		Scan(&level.TenantID, &level.ItemID, &level.LocationID, &level.Quantity, &level.LowStockThreshold, &level.LastUpdated, &level.LastUpdatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLevel{TenantID: tenantID, ItemID: itemID, LocationID: locationID}, ErrStockLevelNotFound
		}
		return StockLevel{}, err
	}
	return level, nil
}

func (t *txRepository) InsertStockLevel(ctx context.Context, level StockLevel) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_levels (tenant_id, item_id, location_id, quantity, low_stock_threshold, last_updated, last_updated_by)
VALUES ($1, $2, $3, $4, $5, NOW(), $6)`,
		level.TenantID, level.ItemID, level.LocationID, level.Quantity, level.LowStockThreshold, level.LastUpdatedBy)
	return err
}

func (t *txRepository) UpdateStockLevel(ctx context.Context, level StockLevel) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_levels SET quantity=$4, low_stock_threshold=$5, last_updated=NOW(), last_updated_by=$6
WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3`,
		level.TenantID, level.ItemID, level.LocationID, level.Quantity, level.LowStockThreshold, level.LastUpdatedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStockLevelNotFound
	}
	return nil
}

func (t *txRepository) InsertAdjustment(ctx context.Context, adj Adjustment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_adjustments
(id, tenant_id, item_id, location_id, adjustment_type, quantity_adjusted, before_quantity, after_quantity, reason, adjustment_date, operator_id, transfer_to_location_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, NULLIF($12, 0), NOW())`,
		adj.ID, adj.TenantID, adj.ItemID, adj.LocationID, string(adj.Type), adj.QuantityAdjusted,
		adj.BeforeQuantity, adj.AfterQuantity, adj.Reason, adj.AdjustmentDate, adj.OperatorID, adj.TransferToLocationID)
	return err
}

// GetStockLevel reads one stock level outside a transaction.
func (r *Repository) GetStockLevel(ctx context.Context, tenantID, itemID, locationID int64) (StockLevel, error) {
	var level StockLevel
	err := r.runner.Pool().QueryRow(ctx, `SELECT tenant_id, item_id, location_id, quantity, low_stock_threshold, last_updated, last_updated_by
FROM stock_levels WHERE tenant_id=$1 AND item_id=$2 AND location_id=$3`,
		tenantID, itemID, locationID).
		Scan(&level.TenantID, &level.ItemID, &level.LocationID, &level.Quantity, &level.LowStockThreshold, &level.LastUpdated, &level.LastUpdatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLevel{}, ErrStockLevelNotFound
		}
		return StockLevel{}, err
	}
	return level, nil
}

// ListStockLevels returns stock levels for a tenant with pagination.
func (r *Repository) ListStockLevels(ctx context.Context, tenantID int64, filter LevelFilter, page shared.Pagination) ([]StockLevel, int, error) {
	args := []any{tenantID}
	where := `tenant_id=$1`
	idx := 2
	if filter.LocationID != 0 {
		where += ` AND location_id=$` + itoa(idx)
		args = append(args, filter.LocationID)
		idx++
	}
	if filter.ItemID != 0 {
		where += ` AND item_id=$` + itoa(idx)
		args = append(args, filter.ItemID)
		idx++
	}
	if filter.LowStockOnly {
		where += ` AND quantity <= low_stock_threshold`
	}

	var total int
	if err := r.runner.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM stock_levels WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT tenant_id, item_id, location_id, quantity, low_stock_threshold, last_updated, last_updated_by
FROM stock_levels WHERE ` + where + ` ORDER BY item_id, location_id LIMIT $` + itoa(idx) + ` OFFSET $` + itoa(idx+1)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.runner.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var levels []StockLevel
	for rows.Next() {
		var level StockLevel
		if err := rows.Scan(&level.TenantID, &level.ItemID, &level.LocationID, &level.Quantity, &level.LowStockThreshold, &level.LastUpdated, &level.LastUpdatedBy); err != nil {
			return nil, 0, err
		}
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return levels, total, nil
}

// GetAdjustment returns one ledger entry by id.
func (r *Repository) GetAdjustment(ctx context.Context, tenantID int64, id string) (Adjustment, error) {
	var adj Adjustment
	var reason *string
	var transferTo *int64
	err := r.runner.Pool().QueryRow(ctx, `SELECT id, tenant_id, item_id, location_id, adjustment_type, quantity_adjusted, before_quantity, after_quantity, reason, adjustment_date, operator_id, transfer_to_location_id, created_at
FROM stock_adjustments WHERE tenant_id=$1 AND id=$2`, tenantID, id).
		Scan(&adj.ID, &adj.TenantID, &adj.ItemID, &adj.LocationID, &adj.Type, &adj.QuantityAdjusted,
			&adj.BeforeQuantity, &adj.AfterQuantity, &reason, &adj.AdjustmentDate, &adj.OperatorID, &transferTo, &adj.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, shared.ErrNotFound
		}
		return Adjustment{}, err
	}
	if reason != nil {
		adj.Reason = *reason
	}
	if transferTo != nil {
		adj.TransferToLocationID = *transferTo
	}
	return adj, nil
}

// ListAdjustments returns ledger entries for a tenant, newest first.
func (r *Repository) ListAdjustments(ctx context.Context, tenantID int64, filter ListFilter, page shared.Pagination) ([]Adjustment, int, error) {
	args := []any{tenantID}
	where := `tenant_id=$1`
	idx := 2
	if filter.ItemID != 0 {
		where += ` AND item_id=$` + itoa(idx)
		args = append(args, filter.ItemID)
		idx++
	}
	if filter.LocationID != 0 {
		where += ` AND location_id=$` + itoa(idx)
		args = append(args, filter.LocationID)
		idx++
	}
	if filter.Type != "" {
		where += ` AND adjustment_type=$` + itoa(idx)
		args = append(args, string(filter.Type))
		idx++
	}
	if !filter.From.IsZero() {
		where += ` AND adjustment_date >= $` + itoa(idx)
		args = append(args, filter.From)
		idx++
	}
	if !filter.To.IsZero() {
		where += ` AND adjustment_date <= $` + itoa(idx)
		args = append(args, filter.To)
		idx++
	}

	var total int
	if err := r.runner.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM stock_adjustments WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, tenant_id, item_id, location_id, adjustment_type, quantity_adjusted, before_quantity, after_quantity, reason, adjustment_date, operator_id, transfer_to_location_id, created_at
FROM stock_adjustments WHERE ` + where + ` ORDER BY adjustment_date DESC, id DESC LIMIT $` + itoa(idx) + ` OFFSET $` + itoa(idx+1)
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.runner.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var adjustments []Adjustment
	for rows.Next() {
		var adj Adjustment
		var reason *string
		var transferTo *int64
		if err := rows.Scan(&adj.ID, &adj.TenantID, &adj.ItemID, &adj.LocationID, &adj.Type, &adj.QuantityAdjusted,
			&adj.BeforeQuantity, &adj.AfterQuantity, &reason, &adj.AdjustmentDate, &adj.OperatorID, &transferTo, &adj.CreatedAt); err != nil {
			return nil, 0, err
		}
		if reason != nil {
			adj.Reason = *reason
		}
		if transferTo != nil {
			adj.TransferToLocationID = *transferTo
		}
		adjustments = append(adjustments, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return adjustments, total, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
