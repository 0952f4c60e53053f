package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/crosslock/swapd/internal/core/domain"
	dbtypes "github.com/crosslock/swapd/internal/infrastructure/db/types"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const eventStoreDir = "swap-events"

type eventsDTO struct {
	Events [][]byte
}

type eventRepository struct {
	store   *badgerhold.Store
	lock    *sync.Mutex
	handler func(swap *domain.Swap)
}

func NewSwapEventRepository(config ...interface{}) (dbtypes.EventStore, error) {
	if len(config) != 2 {
		return nil, fmt.Errorf("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok {
		return nil, fmt.Errorf("invalid base directory")
	}

	var logger badger.Logger
	if config[1] != nil {
		logger, ok = config[1].(badger.Logger)
		if !ok {
			return nil, fmt.Errorf("invalid logger")
		}
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, eventStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open swap events store: %s", err)
	}
	return &eventRepository{store, &sync.Mutex{}, nil}, nil
}

func (r *eventRepository) Save(
	ctx context.Context, id string, events ...domain.SwapEvent,
) error {
	allEvents, err := r.get(ctx, id)
	if err != nil {
		return err
	}

	allEvents = append(allEvents, events...)
	if err := r.upsert(ctx, id, allEvents); err != nil {
		return err
	}
	// Handlers run synchronously so a caller that saved events reads its
	// own writes from the projection store right after Save returns.
	r.publish(allEvents)
	return nil
}

func (r *eventRepository) Load(
	ctx context.Context, id string,
) (*domain.Swap, error) {
	events, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.NewSwapFromEvents(events), nil
}

func (r *eventRepository) RegisterEventsHandler(
	handler func(swap *domain.Swap),
) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.handler = handler
}

func (r *eventRepository) Close() {
	r.store.Close()
}

func (r *eventRepository) get(
	ctx context.Context, id string,
) ([]domain.SwapEvent, error) {
	dto := eventsDTO{}
	var err error
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxGet(tx, id, &dto)
	} else {
		err = r.store.Get(id, &dto)
	}
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get events with id %s: %s", id, err)
	}

	return deserializeEvents(dto.Events)
}

func (r *eventRepository) upsert(
	ctx context.Context, id string, events []domain.SwapEvent,
) error {
	buf, err := serializeEvents(events)
	if err != nil {
		return err
	}
	dto := eventsDTO{Events: buf}
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxUpsert(tx, id, dto)
	} else {
		err = r.store.Upsert(id, dto)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert events with id %s: %s", id, err)
	}
	return nil
}

func (r *eventRepository) publish(events []domain.SwapEvent) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.handler == nil {
		return
	}
	r.handler(domain.NewSwapFromEvents(events))
}
