package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a sale listing. Filled and cancelled are
// terminal.
type Status string

const (
	StatusOpen      Status = "open"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
)

// Listing is an open offer to sell a quantity of shares at a fixed price.
// The offered shares are escrowed on the seller's holding while the listing
// is open, so they cannot be double-sold or transferred away.
type Listing struct {
	ID            string
	PropertyID    string
	SellerID      string
	Shares        int64
	PricePerShare decimal.Decimal
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Cost returns the total price of the lot.
func (l Listing) Cost() decimal.Decimal {
	return l.PricePerShare.Mul(decimal.NewFromInt(l.Shares))
}
