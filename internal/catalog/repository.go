package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads items from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetItem returns the item for (tenant, item) or ItemNotFoundError.
func (r *Repository) GetItem(ctx context.Context, tenantID, itemID int64) (Item, error) {
	var item Item
	err := r.pool.QueryRow(ctx, `SELECT id, tenant_id, sku, name, low_stock_threshold, created_at, updated_at
FROM items WHERE tenant_id=$1 AND id=$2`, tenantID, itemID).
		Scan(&item.ID, &item.TenantID, &item.SKU, &item.Name, &item.LowStockThreshold, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, &ItemNotFoundError{TenantID: tenantID, ItemID: itemID}
		}
		return Item{}, err
	}
	return item, nil
}

// GetItems resolves several items at once, used by batch pre-flight
// validation. The result maps item id to item; absent ids are simply
// missing from the map.
func (r *Repository) GetItems(ctx context.Context, tenantID int64, itemIDs []int64) (map[int64]Item, error) {
	if len(itemIDs) == 0 {
		return map[int64]Item{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, tenant_id, sku, name, low_stock_threshold, created_at, updated_at
FROM items WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make(map[int64]Item, len(itemIDs))
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.TenantID, &item.SKU, &item.Name, &item.LowStockThreshold, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		items[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
