package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool is the fixed-supply share pool issued for one property. TotalShares is
// immutable after creation; there is no burn or re-issuance operation.
type Pool struct {
	PropertyID    string
	TotalShares   int64
	PricePerShare decimal.Decimal
	CreatedAt     time.Time
}

// Holding is the (property, holder) balance row. Reserved counts shares
// escrowed to open sale listings and can never exceed Balance.
type Holding struct {
	PropertyID string
	HolderID   string
	Balance    int64
	Reserved   int64
}

// Free returns the portion of the balance not committed to open listings.
func (h Holding) Free() int64 {
	return h.Balance - h.Reserved
}
