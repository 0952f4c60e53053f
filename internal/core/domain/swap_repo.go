package domain

import (
	"context"
)

type SwapEventRepository interface {
	Save(ctx context.Context, id string, events ...SwapEvent) error
	Load(ctx context.Context, id string) (*Swap, error)
}

type SwapRepository interface {
	AddOrUpdateSwap(ctx context.Context, swap Swap) error
	GetSwapWithId(ctx context.Context, id string) (*Swap, error)
	GetSwapsWithHash(ctx context.Context, hash string) ([]Swap, error)
	ListNonTerminal(ctx context.Context) ([]Swap, error)
}
