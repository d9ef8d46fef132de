package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vendor captures the subset of shop data exposed via the public API layer.
// A vendor shares its identifier with the vendor user account that runs it.
type Vendor struct {
	ID        string
	Name      string
	Verified  bool
	CreatedAt time.Time
}

// Product is a listed item with its current unit price.
type Product struct {
	ID        string
	VendorID  string
	Name      string
	UnitPrice decimal.Decimal
	Active    bool
}
