package ledger

import "errors"

var (
	// ErrInvalidAmount signals a non-positive amount or a self-transfer.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInsufficientBalance signals a debit larger than the holder's free balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrAlreadyIssued signals a second issuance attempt for a pool.
	ErrAlreadyIssued = errors.New("ledger: shares already issued")
	// ErrPoolAlreadyExists signals a duplicate createPool for the same property.
	ErrPoolAlreadyExists = errors.New("ledger: pool already exists")
	// ErrInvalidSupply signals a non-positive total share count.
	ErrInvalidSupply = errors.New("ledger: invalid supply")
	// ErrPoolNotFound is returned when no share pool exists for the property.
	ErrPoolNotFound = errors.New("ledger: pool not found")
)
