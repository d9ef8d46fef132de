package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested vendor does not exist.
var ErrNotFound = errors.New("catalog: not found")

// Repository provides read access to vendors and their listings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a vendor by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Vendor, error) {
	const query = `
		SELECT id, name, verified, created_at
		FROM vendors
		WHERE id = $1
	`

	var v Vendor
	err := r.pool.QueryRow(ctx, query, id).Scan(&v.ID, &v.Name, &v.Verified, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vendor{}, ErrNotFound
		}
		return Vendor{}, fmt.Errorf("catalog: query vendor by id: %w", err)
	}

	return v, nil
}

// List fetches up to limit vendors ordered by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Vendor, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, name, verified, created_at
		FROM vendors
		ORDER BY name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: list vendors: %w", err)
	}
	defer rows.Close()

	vendors := make([]Vendor, 0, limit)
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.Verified, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan vendor: %w", err)
		}
		vendors = append(vendors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate vendors: %w", err)
	}

	return vendors, nil
}

// Products fetches the listed products matching ids. Unknown ids are omitted.
func (r *Repository) Products(ctx context.Context, ids []string) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const query = `
		SELECT id, vendor_id, name, unit_price, active
		FROM products
		WHERE id = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog: query products: %w", err)
	}
	defer rows.Close()

	out := make([]Product, 0, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.VendorID, &p.Name, &p.UnitPrice, &p.Active); err != nil {
			return nil, fmt.Errorf("catalog: scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate products: %w", err)
	}
	return out, nil
}
