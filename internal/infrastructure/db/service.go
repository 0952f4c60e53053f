package db

import (
	"fmt"

	"github.com/crosslock/swapd/internal/core/domain"
	"github.com/crosslock/swapd/internal/core/ports"
	badgerdb "github.com/crosslock/swapd/internal/infrastructure/db/badger"
	dbtypes "github.com/crosslock/swapd/internal/infrastructure/db/types"
)

var (
	eventStoreTypes = map[string]func(...interface{}) (dbtypes.EventStore, error){
		"badger": badgerdb.NewSwapEventRepository,
	}
	swapStoreTypes = map[string]func(...interface{}) (dbtypes.SwapStore, error){
		"badger": badgerdb.NewSwapRepository,
	}
)

type ServiceConfig struct {
	EventStoreType string
	SwapStoreType  string

	EventStoreConfig []interface{}
	SwapStoreConfig  []interface{}
}

type service struct {
	eventStore dbtypes.EventStore
	swapStore  dbtypes.SwapStore
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	eventStoreFactory, ok := eventStoreTypes[config.EventStoreType]
	if !ok {
		return nil, fmt.Errorf("event store type not supported")
	}
	swapStoreFactory, ok := swapStoreTypes[config.SwapStoreType]
	if !ok {
		return nil, fmt.Errorf("swap store type not supported")
	}

	eventStore, err := eventStoreFactory(config.EventStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %s", err)
	}
	swapStore, err := swapStoreFactory(config.SwapStoreConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open swap store: %s", err)
	}

	return &service{eventStore, swapStore}, nil
}

func (s *service) RegisterEventsHandler(handler func(*domain.Swap)) {
	s.eventStore.RegisterEventsHandler(handler)
}

func (s *service) Events() domain.SwapEventRepository {
	return s.eventStore
}

func (s *service) Swaps() domain.SwapRepository {
	return s.swapStore
}

func (s *service) Close() {
	s.eventStore.Close()
	s.swapStore.Close()
}
