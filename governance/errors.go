package governance

import "errors"

var (
	// ErrProposalNotFound is returned when no proposal exists for the identifier.
	ErrProposalNotFound = errors.New("governance: proposal not found")
	// ErrProposalNotActive signals a vote or cancel after the voting window
	// closed or the proposal reached a terminal state.
	ErrProposalNotActive = errors.New("governance: proposal not active")
	// ErrProposalNotPassed signals an execute against anything but a passed proposal.
	ErrProposalNotPassed = errors.New("governance: proposal not passed")
	// ErrAlreadyVoted signals a second vote by the same holder.
	ErrAlreadyVoted = errors.New("governance: already voted")
	// ErrNoHolding signals a proposer or voter with no shares in the property.
	ErrNoHolding = errors.New("governance: no holding in property")
	// ErrNotAuthorized signals an execute or cancel by someone who is neither
	// the proposer nor an admin.
	ErrNotAuthorized = errors.New("governance: not authorized")
	// ErrInvalidDirection signals a vote direction outside for/against.
	ErrInvalidDirection = errors.New("governance: invalid vote direction")
)
