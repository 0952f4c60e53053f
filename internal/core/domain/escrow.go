package domain

import "fmt"

const (
	EscrowPending EscrowStatus = iota
	EscrowActive
	EscrowClaimed
	EscrowRefunded
	EscrowNotFound
)

type EscrowStatus int

func (s EscrowStatus) String() string {
	switch s {
	case EscrowPending:
		return "PENDING"
	case EscrowActive:
		return "ACTIVE"
	case EscrowClaimed:
		return "CLAIMED"
	case EscrowRefunded:
		return "REFUNDED"
	case EscrowNotFound:
		return "NOT_FOUND"
	default:
		return "UNDEFINED"
	}
}

// EscrowRecord is the coordinator's local mirror of one ledger-side escrow.
// It is mutated only by replaying swap events; the ledger itself stays the
// source of truth for the escrow's real state.
type EscrowRecord struct {
	LedgerId     string
	EscrowRef    string
	Principal    string
	Counterparty string // empty means open, claimable by anyone with the secret
	Amount       uint64
	AssetRef     string
	Hash         string
	Timelock     int64 // absolute expiry, in the owning ledger's own clock
	Status       EscrowStatus
}

func (e EscrowRecord) IsTerminal() bool {
	return e.Status == EscrowClaimed || e.Status == EscrowRefunded
}

func (e EscrowRecord) validate() error {
	if len(e.LedgerId) <= 0 {
		return fmt.Errorf("missing ledger id")
	}
	if len(e.Principal) <= 0 {
		return fmt.Errorf("missing principal")
	}
	if e.Amount <= 0 {
		return fmt.Errorf("missing amount")
	}
	if len(e.AssetRef) <= 0 {
		return fmt.Errorf("missing asset ref")
	}
	if !IsValidCommitmentHash(e.Hash) {
		return fmt.Errorf("invalid commitment hash")
	}
	if e.Timelock <= 0 {
		return fmt.Errorf("missing timelock")
	}
	return nil
}
