package infra

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"craftmart/auth"
)

// Listing is a seeded product.
type Listing struct {
	ID        string
	UnitPrice decimal.Decimal
}

// Marketplace is the seeded cast of a suite.
type Marketplace struct {
	Customers []auth.Identity
	Vendor    auth.Identity
	Admin     auth.Identity
	Listings  []Listing
}

var listingPrices = []string{"12.50", "19.99", "7.25", "45.00"}

// SeedMarketplace inserts one vendor with a few listings, one admin and n
// customers. Seeded accounts carry no usable password.
func SeedMarketplace(ctx context.Context, pool *pgxpool.Pool, customers int) (Marketplace, error) {
	run := uuid.NewString()[:8]
	var m Marketplace

	insertUser := func(role auth.Role, label string) (auth.Identity, error) {
		var id string
		err := pool.QueryRow(ctx, `
INSERT INTO users (email, full_name, password_hash, role)
VALUES ($1, $2, '!', $3)
RETURNING id`, fmt.Sprintf("%s+%s@craftmart.test", label, run), label, string(role)).Scan(&id)
		if err != nil {
			return auth.Identity{}, fmt.Errorf("infra: seed %s: %w", label, err)
		}
		return auth.Identity{UserID: id, Role: role}, nil
	}

	var err error
	if m.Admin, err = insertUser(auth.RoleAdmin, "admin"); err != nil {
		return m, err
	}
	if m.Vendor, err = insertUser(auth.RoleVendor, "vendor"); err != nil {
		return m, err
	}
	if _, err := pool.Exec(ctx, `INSERT INTO vendors (id, name, verified) VALUES ($1, $2, true)`,
		m.Vendor.UserID, "Kiln "+run); err != nil {
		return m, fmt.Errorf("infra: seed vendor: %w", err)
	}
	for i := 0; i < customers; i++ {
		c, err := insertUser(auth.RoleCustomer, fmt.Sprintf("customer%d", i))
		if err != nil {
			return m, err
		}
		m.Customers = append(m.Customers, c)
	}

	for i, price := range listingPrices {
		l := Listing{ID: fmt.Sprintf("sku-%s-%d", run, i), UnitPrice: decimal.RequireFromString(price)}
		if _, err := pool.Exec(ctx, `
INSERT INTO products (id, vendor_id, name, unit_price)
VALUES ($1, $2, $3, $4)`, l.ID, m.Vendor.UserID, "Listing "+l.ID, l.UnitPrice); err != nil {
			return m, fmt.Errorf("infra: seed product: %w", err)
		}
		m.Listings = append(m.Listings, l)
	}
	return m, nil
}
