package application

import "errors"

var (
	// ErrHashCollision is returned by StartSwap when the commitment hash is
	// already bound to a non-terminal swap.
	ErrHashCollision = errors.New("commitment hash already in use by an active swap")
	ErrUnknownLedger = errors.New("unknown ledger")
)
