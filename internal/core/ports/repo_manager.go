package ports

import "github.com/crosslock/swapd/internal/core/domain"

type RepoManager interface {
	Events() domain.SwapEventRepository
	Swaps() domain.SwapRepository
	RegisterEventsHandler(func(*domain.Swap))
	Close()
}
