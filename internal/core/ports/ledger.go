package ports

import (
	"context"
	"errors"

	"github.com/crosslock/swapd/internal/core/domain"
)

// Ledger error taxonomy. Adapters must translate ledger-native failures into
// exactly one of these; the coordinator turns them into state-machine inputs
// and never lets them escape a tick.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidParameters  = errors.New("invalid parameters")
	ErrLedgerUnavailable  = errors.New("ledger unavailable")
	ErrEscrowNotActive    = errors.New("escrow not active")
	ErrSecretMismatch     = errors.New("secret mismatch")
	ErrTimelockNotExpired = errors.New("timelock not expired")
	ErrEscrowExpired      = errors.New("escrow expired")
	ErrEscrowNotFound     = errors.New("escrow not found")
)

type CreateEscrowParams struct {
	Principal    string
	Counterparty string // empty leaves the escrow open
	Amount       uint64
	AssetRef     string
	Hash         string
	Timelock     int64
}

// EscrowSnapshot is a read-only view of an escrow as its ledger reports it.
// Secret carries the pre-image once the escrow has been claimed; it is
// public information on that ledger from that point on.
type EscrowSnapshot struct {
	EscrowRef    string
	Principal    string
	Counterparty string
	Amount       uint64
	AssetRef     string
	Hash         string
	Timelock     int64
	Status       domain.EscrowStatus
	Secret       []byte
}

type Receipt struct {
	TxRef     string
	Timestamp int64
}

// LedgerAdapter is the narrow capability interface the coordinator uses to
// talk to one ledger. Implementations must preserve hash-lock and time-lock
// semantics atomically at the ledger level; the coordinator makes no other
// assumption about a ledger's internals. The contract is identity-free: a
// claim carries only the escrow ref and the pre-image, and any claimer
// authorization is enforced ledger-natively below this seam.
// Now returns the ledger's own clock:
// expiry decisions always compare an escrow's timelock against the clock of
// the ledger that owns it, never across ledgers.
type LedgerAdapter interface {
	LedgerId() string
	Now(ctx context.Context) (int64, error)
	CreateEscrow(ctx context.Context, params CreateEscrowParams) (string, error)
	ClaimEscrow(ctx context.Context, escrowRef string, secret []byte) (*Receipt, error)
	RefundEscrow(ctx context.Context, escrowRef string) (*Receipt, error)
	QueryEscrow(ctx context.Context, escrowRef string) (*EscrowSnapshot, error)
}
