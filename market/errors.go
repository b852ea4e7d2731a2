package market

import "errors"

var (
	// ErrListingNotFound is returned when no listing exists for the identifier.
	ErrListingNotFound = errors.New("market: listing not found")
	// ErrListingNotOpen signals a buy or cancel against a terminal listing.
	ErrListingNotOpen = errors.New("market: listing not open")
	// ErrNotOwner signals a cancel attempt by someone other than the seller.
	ErrNotOwner = errors.New("market: caller is not the seller")
	// ErrDependencyUnavailable wraps infrastructure failures of a collaborator
	// (wallet, ledger) during settlement. The whole trade is rolled back and
	// the caller decides whether to retry.
	ErrDependencyUnavailable = errors.New("market: dependency unavailable")
)
