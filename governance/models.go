package governance

import "time"

// Status is the proposal lifecycle state. Transitions are monotonic:
// active -> passed | failed | cancelled, passed -> executed. Everything but
// active and passed is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusExecuted  Status = "executed"
	StatusCancelled Status = "cancelled"
)

// Direction is a vote's side.
type Direction string

const (
	DirectionFor     Direction = "for"
	DirectionAgainst Direction = "against"
)

// Proposal is a property-scoped governance item subject to weighted voting.
// QuorumThreshold is fixed at creation from the pool's issued supply and the
// configured quorum fraction.
type Proposal struct {
	ID              string
	PropertyID      string
	ProposerID      string
	Title           string
	Description     string
	ForVotes        int64
	AgainstVotes    int64
	QuorumThreshold int64
	Status          Status
	VotingEndsAt    time.Time
	CreatedAt       time.Time
}

// Terminal reports whether no further transitions are possible.
func (p Proposal) Terminal() bool {
	switch p.Status {
	case StatusFailed, StatusExecuted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Vote is one holder's weighted vote on a proposal. Weight is the voter's
// share balance at the moment of voting and is never recalculated.
type Vote struct {
	ProposalID string
	VoterID    string
	Direction  Direction
	Weight     int64
	VotedAt    time.Time
}
