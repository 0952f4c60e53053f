package dbtypes

import "github.com/crosslock/swapd/internal/core/domain"

type EventStore interface {
	domain.SwapEventRepository
	RegisterEventsHandler(func(*domain.Swap))
	Close()
}

type SwapStore interface {
	domain.SwapRepository
	Close()
}
