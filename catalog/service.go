package catalog

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownProduct signals a product id with no listing.
	ErrUnknownProduct = errors.New("catalog: unknown product")
	// ErrProductUnavailable signals a delisted product or one sold by another vendor.
	ErrProductUnavailable = errors.New("catalog: product unavailable")
)

// Reader abstracts repository operations for the service.
type Reader interface {
	GetByID(ctx context.Context, id string) (Vendor, error)
	List(ctx context.Context, limit int) ([]Vendor, error)
	Products(ctx context.Context, ids []string) ([]Product, error)
}

// Service exposes business-level catalog operations.
type Service struct {
	repo Reader
}

// NewService builds a Service using the provided repository.
func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the vendor for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Vendor, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit vendors.
func (s *Service) List(ctx context.Context, limit int) ([]Vendor, error) {
	return s.repo.List(ctx, limit)
}

// PriceList resolves the active listings of one vendor keyed by product id.
// Every requested id must be listed, active and sold by vendorID.
func (s *Service) PriceList(ctx context.Context, vendorID string, productIDs []string) (map[string]Product, error) {
	if _, err := s.repo.GetByID(ctx, vendorID); err != nil {
		return nil, err
	}

	products, err := s.repo.Products(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for _, id := range productIDs {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
		}
		if !p.Active || p.VendorID != vendorID {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, id)
		}
	}
	return byID, nil
}
