package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crosslock/swapd/internal/core/domain"
	"github.com/crosslock/swapd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const eventsChannelSize = 128

type Service interface {
	Start() error
	Stop()
	StartSwap(ctx context.Context, req StartSwapRequest) (*domain.Swap, error)
	AttachCounterLeg(ctx context.Context, swapId string, req CounterLegRequest) (*domain.Swap, error)
	Tick(ctx context.Context, swapId string) error
	GetStatus(ctx context.Context, swapId string) (*domain.Swap, error)
	ListActive(ctx context.Context) ([]domain.Swap, error)
	CancelSwap(ctx context.Context, swapId string) error
	GetEventsChannel(ctx context.Context) <-chan domain.SwapEvent
}

type StartSwapRequest struct {
	LedgerId     string
	Principal    string
	Counterparty string
	Amount       uint64
	AssetRef     string
	Timelock     int64
	// CommitmentHash lets a responder-side caller pin the swap to the
	// initiator's hash instead of generating a fresh commitment. Such a
	// coordinator never holds the secret and completes only through an
	// observed reveal.
	CommitmentHash string
}

type CounterLegRequest struct {
	LedgerId     string
	Principal    string
	Counterparty string
	Amount       uint64
	AssetRef     string
	Timelock     int64
}

type service struct {
	pollInterval     int64
	callTimeout      time.Duration
	safetyMargin     int64
	maxWriteAttempts int

	ledgers     map[string]ports.LedgerAdapter
	repoManager ports.RepoManager
	scheduler   ports.SchedulerService

	secrets  *secretsMap
	locks    *swapLocks
	attempts *attemptsMap

	eventsCh chan domain.SwapEvent
	workers  chan struct{}
	wg       *sync.WaitGroup
	stopLock *sync.Mutex
	stopped  bool
}

func NewService(
	pollInterval int64, callTimeout time.Duration,
	safetyMargin int64, maxWriteAttempts, numWorkers int,
	ledgers []ports.LedgerAdapter, repoManager ports.RepoManager,
	scheduler ports.SchedulerService,
) (Service, error) {
	if len(ledgers) < 2 {
		return nil, fmt.Errorf("at least two ledger adapters are required")
	}
	indexedLedgers := make(map[string]ports.LedgerAdapter)
	for _, ledger := range ledgers {
		if _, ok := indexedLedgers[ledger.LedgerId()]; ok {
			return nil, fmt.Errorf("duplicate ledger id %s", ledger.LedgerId())
		}
		indexedLedgers[ledger.LedgerId()] = ledger
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}

	svc := &service{
		pollInterval:     pollInterval,
		callTimeout:      callTimeout,
		safetyMargin:     safetyMargin,
		maxWriteAttempts: maxWriteAttempts,
		ledgers:          indexedLedgers,
		repoManager:      repoManager,
		scheduler:        scheduler,
		secrets:          newSecretsMap(),
		locks:            newSwapLocks(),
		attempts:         newAttemptsMap(),
		eventsCh:         make(chan domain.SwapEvent, eventsChannelSize),
		workers:          make(chan struct{}, numWorkers),
		wg:               &sync.WaitGroup{},
		stopLock:         &sync.Mutex{},
	}
	repoManager.RegisterEventsHandler(func(swap *domain.Swap) {
		svc.updateProjectionStore(swap)
		svc.propagateEvents(swap)
	})
	return svc, nil
}

func (s *service) Start() error {
	swaps, err := s.repoManager.Swaps().ListNonTerminal(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load in-flight swaps: %w", err)
	}
	if len(swaps) > 0 {
		log.Infof("resuming %d in-flight swaps", len(swaps))
	}
	if err := s.scheduler.ScheduleTask(s.pollInterval, true, s.pollSwaps); err != nil {
		return err
	}
	s.scheduler.Start()
	log.Debug("started swap coordinator")
	return nil
}

func (s *service) Stop() {
	s.scheduler.Stop()
	s.stopLock.Lock()
	s.stopped = true
	s.stopLock.Unlock()
	// Let in-flight ticks finish rather than abandon a write mid-flight.
	s.wg.Wait()
	s.repoManager.Close()
	log.Debug("closed connection to db")
}

// acquireWorker registers a unit of background work, unless the service is
// shutting down. Taking the waitgroup slot under the stop lock keeps a late
// scheduler fire from racing Stop's final Wait.
func (s *service) acquireWorker() bool {
	s.stopLock.Lock()
	defer s.stopLock.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *service) StartSwap(ctx context.Context, req StartSwapRequest) (*domain.Swap, error) {
	adapter, ok := s.ledgers[req.LedgerId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLedger, req.LedgerId)
	}

	hash := req.CommitmentHash
	var commitment *domain.SecretCommitment
	if len(hash) <= 0 {
		var err error
		commitment, err = domain.NewSecretCommitment()
		if err != nil {
			return nil, err
		}
		hash = commitment.Hash
	} else if !domain.IsValidCommitmentHash(hash) {
		return nil, fmt.Errorf("%w: malformed commitment hash", ports.ErrInvalidParameters)
	}

	others, err := s.repoManager.Swaps().GetSwapsWithHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	for _, other := range others {
		if !other.IsTerminal() {
			return nil, ErrHashCollision
		}
	}

	swap := domain.NewSwap(hash)
	legA := domain.EscrowRecord{
		LedgerId:     req.LedgerId,
		Principal:    req.Principal,
		Counterparty: req.Counterparty,
		Amount:       req.Amount,
		AssetRef:     req.AssetRef,
		Hash:         hash,
		Timelock:     req.Timelock,
	}
	if err := swap.ValidateFirstLeg(legA); err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrInvalidParameters, err)
	}

	escrowRef, err := s.createEscrow(ctx, adapter, legA)
	if err != nil {
		return nil, err
	}
	legA.EscrowRef = escrowRef

	changes, err := swap.Start(legA)
	if err != nil {
		return nil, err
	}
	if err := s.repoManager.Events().Save(ctx, swap.Id, changes...); err != nil {
		return nil, err
	}

	if commitment != nil {
		s.secrets.put(swap.Id, commitment.Secret)
	}

	s.scheduleExpiryWakeup(ctx, adapter, swap.Id, legA.Timelock)

	log.Debugf("started swap %s with first leg on %s", swap.Id, legA.LedgerId)

	swapCopy := swap.Copy()
	return &swapCopy, nil
}

func (s *service) AttachCounterLeg(
	ctx context.Context, swapId string, req CounterLegRequest,
) (*domain.Swap, error) {
	adapter, ok := s.ledgers[req.LedgerId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLedger, req.LedgerId)
	}

	s.locks.lock(swapId)
	defer s.locks.unlock(swapId)

	swap, err := s.repoManager.Swaps().GetSwapWithId(ctx, swapId)
	if err != nil {
		return nil, err
	}

	if swap.HasLegB {
		// Crash-restart idempotence: a pre-existing escrow with matching
		// hash is accepted as-is rather than re-created.
		snapshot, err := s.queryEscrow(ctx, adapter, swap.LegB.EscrowRef)
		if err == nil && snapshot.Status == domain.EscrowActive && snapshot.Hash == swap.Hash {
			swapCopy := swap.Copy()
			return &swapCopy, nil
		}
		return nil, fmt.Errorf("counter leg already attached")
	}

	legB := domain.EscrowRecord{
		LedgerId:     req.LedgerId,
		Principal:    req.Principal,
		Counterparty: req.Counterparty,
		Amount:       req.Amount,
		AssetRef:     req.AssetRef,
		Hash:         swap.Hash,
		Timelock:     req.Timelock,
	}
	if err := swap.ValidateCounterLeg(legB); err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrInvalidParameters, err)
	}

	escrowRef, err := s.createEscrow(ctx, adapter, legB)
	if err != nil {
		return nil, err
	}
	legB.EscrowRef = escrowRef

	changes, err := swap.AttachCounterLeg(legB)
	if err != nil {
		return nil, err
	}
	if err := s.repoManager.Events().Save(ctx, swap.Id, changes...); err != nil {
		return nil, err
	}

	s.scheduleExpiryWakeup(ctx, adapter, swap.Id, legB.Timelock)

	log.Debugf("attached counter leg on %s to swap %s", legB.LedgerId, swap.Id)

	swapCopy := swap.Copy()
	return &swapCopy, nil
}

func (s *service) GetStatus(ctx context.Context, swapId string) (*domain.Swap, error) {
	swap, err := s.repoManager.Swaps().GetSwapWithId(ctx, swapId)
	if err != nil {
		return nil, err
	}
	swapCopy := swap.Copy()
	return &swapCopy, nil
}

func (s *service) ListActive(ctx context.Context) ([]domain.Swap, error) {
	swaps, err := s.repoManager.Swaps().ListNonTerminal(ctx)
	if err != nil {
		return nil, err
	}
	copies := make([]domain.Swap, 0, len(swaps))
	for _, swap := range swaps {
		copies = append(copies, swap.Copy())
	}
	return copies, nil
}

func (s *service) CancelSwap(ctx context.Context, swapId string) error {
	s.locks.lock(swapId)
	defer s.locks.unlock(swapId)

	swap, err := s.repoManager.Swaps().GetSwapWithId(ctx, swapId)
	if err != nil {
		return err
	}
	changes, err := swap.RequestCancellation()
	if err != nil {
		return err
	}
	if len(changes) <= 0 {
		return nil
	}
	return s.repoManager.Events().Save(ctx, swap.Id, changes...)
}

func (s *service) GetEventsChannel(ctx context.Context) <-chan domain.SwapEvent {
	return s.eventsCh
}

func (s *service) pollSwaps() {
	if !s.acquireWorker() {
		return
	}
	defer s.wg.Done()

	ctx := context.Background()
	swaps, err := s.repoManager.Swaps().ListNonTerminal(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to list in-flight swaps")
		return
	}
	for i := range swaps {
		swapId := swaps[i].Id
		s.workers <- struct{}{}
		s.wg.Add(1)
		go func() {
			defer func() {
				<-s.workers
				s.wg.Done()
			}()
			if err := s.Tick(ctx, swapId); err != nil {
				log.WithError(err).Warnf("tick failed for swap %s", swapId)
			}
		}()
	}
}

// scheduleExpiryWakeup arms a one-shot tick shortly after a timelock expires
// so refunds don't have to wait for the next full poll cycle.
func (s *service) scheduleExpiryWakeup(
	ctx context.Context, adapter ports.LedgerAdapter, swapId string, timelock int64,
) {
	now, err := s.ledgerNow(ctx, adapter)
	if err != nil {
		return
	}
	delay := timelock - now + 1
	if delay < 1 {
		delay = 1
	}
	if err := s.scheduler.ScheduleTaskOnce(delay, func() {
		if !s.acquireWorker() {
			return
		}
		defer s.wg.Done()
		if err := s.Tick(context.Background(), swapId); err != nil {
			log.WithError(err).Warnf("expiry tick failed for swap %s", swapId)
		}
	}); err != nil {
		log.WithError(err).Warnf("failed to schedule expiry wakeup for swap %s", swapId)
	}
}

func (s *service) updateProjectionStore(swap *domain.Swap) {
	ctx := context.Background()
	for {
		if err := s.repoManager.Swaps().AddOrUpdateSwap(ctx, *swap); err != nil {
			log.WithError(err).Warn("failed to update swap projection, retrying soon")
			time.Sleep(100 * time.Millisecond)
			continue
		}
		break
	}
}

func (s *service) propagateEvents(swap *domain.Swap) {
	events := swap.Events()
	if len(events) <= 0 {
		return
	}
	select {
	case s.eventsCh <- events[len(events)-1]:
	default:
		log.Debugf("events channel full, dropping event for swap %s", swap.Id)
	}
}

func (s *service) createEscrow(
	ctx context.Context, adapter ports.LedgerAdapter, leg domain.EscrowRecord,
) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	escrowRef, err := adapter.CreateEscrow(ctx, ports.CreateEscrowParams{
		Principal:    leg.Principal,
		Counterparty: leg.Counterparty,
		Amount:       leg.Amount,
		AssetRef:     leg.AssetRef,
		Hash:         leg.Hash,
		Timelock:     leg.Timelock,
	})
	if err != nil {
		return "", asLedgerError(err)
	}
	return escrowRef, nil
}

func (s *service) claimEscrow(
	ctx context.Context, adapter ports.LedgerAdapter, escrowRef string, secret []byte,
) (*ports.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	receipt, err := adapter.ClaimEscrow(ctx, escrowRef, secret)
	if err != nil {
		return nil, asLedgerError(err)
	}
	return receipt, nil
}

func (s *service) refundEscrow(
	ctx context.Context, adapter ports.LedgerAdapter, escrowRef string,
) (*ports.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	receipt, err := adapter.RefundEscrow(ctx, escrowRef)
	if err != nil {
		return nil, asLedgerError(err)
	}
	return receipt, nil
}

func (s *service) queryEscrow(
	ctx context.Context, adapter ports.LedgerAdapter, escrowRef string,
) (*ports.EscrowSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	snapshot, err := adapter.QueryEscrow(ctx, escrowRef)
	if err != nil {
		return nil, asLedgerError(err)
	}
	return snapshot, nil
}

func (s *service) ledgerNow(ctx context.Context, adapter ports.LedgerAdapter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	now, err := adapter.Now(ctx)
	if err != nil {
		return 0, asLedgerError(err)
	}
	return now, nil
}

// asLedgerError maps call timeouts to the transient taxonomy entry: a
// timed-out call is no evidence the escrow doesn't exist.
func asLedgerError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ports.ErrLedgerUnavailable
	}
	return err
}
