package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/crosslock/swapd/internal/core/domain"
	dbtypes "github.com/crosslock/swapd/internal/infrastructure/db/types"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const swapStoreDir = "swaps"

type swapRepository struct {
	store *badgerhold.Store
}

func NewSwapRepository(config ...interface{}) (dbtypes.SwapStore, error) {
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
		dir = filepath.Join(baseDir, swapStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open swap store: %s", err)
	}

	return &swapRepository{store}, nil
}

func (r *swapRepository) AddOrUpdateSwap(
	ctx context.Context, swap domain.Swap,
) error {
	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		return r.store.TxUpsert(tx, swap.Id, swap)
	}
	return r.store.Upsert(swap.Id, swap)
}

func (r *swapRepository) GetSwapWithId(
	ctx context.Context, id string,
) (*domain.Swap, error) {
	query := badgerhold.Where("Id").Eq(id)
	swaps, err := r.findSwap(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(swaps) <= 0 {
		return nil, fmt.Errorf("swap with id %s not found", id)
	}
	return &swaps[0], nil
}

func (r *swapRepository) GetSwapsWithHash(
	ctx context.Context, hash string,
) ([]domain.Swap, error) {
	query := badgerhold.Where("Hash").Eq(hash)
	return r.findSwap(ctx, query)
}

func (r *swapRepository) ListNonTerminal(
	ctx context.Context,
) ([]domain.Swap, error) {
	query := badgerhold.Where("State").MatchFunc(
		func(record *badgerhold.RecordAccess) (bool, error) {
			state, ok := record.Field().(domain.SwapState)
			if !ok {
				return false, fmt.Errorf("invalid swap state")
			}
			return !state.IsTerminal(), nil
		},
	)
	return r.findSwap(ctx, query)
}

func (r *swapRepository) Close() {
	r.store.Close()
}

func (r *swapRepository) findSwap(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.Swap, error) {
	var swaps []domain.Swap
	var err error

	if ctx.Value("tx") != nil {
		tx := ctx.Value("tx").(*badger.Txn)
		err = r.store.TxFind(tx, &swaps, query)
	} else {
		err = r.store.Find(&swaps, query)
	}

	return swaps, err
}
