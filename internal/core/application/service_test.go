package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/crosslock/swapd/internal/core/application"
	"github.com/crosslock/swapd/internal/core/domain"
	"github.com/crosslock/swapd/internal/core/ports"
	"github.com/crosslock/swapd/internal/infrastructure/db"
	inmemoryledger "github.com/crosslock/swapd/internal/infrastructure/ledger/inmemory"
	scheduler "github.com/crosslock/swapd/internal/infrastructure/scheduler/gocron"
	"github.com/stretchr/testify/require"
)

const (
	ledgerAId = "ledger-a"
	ledgerBId = "ledger-b"

	baseTime     = int64(1000)
	legATimelock = int64(2000)
	legBTimelock = int64(1500)

	safetyMargin     = int64(60)
	maxWriteAttempts = 2
)

type fakeClock struct {
	now int64
}

func (c *fakeClock) Now() int64 {
	return c.now
}

type swapEnv struct {
	svc     application.Service
	repo    ports.RepoManager
	ledgerA *inmemoryledger.LedgerService
	ledgerB *inmemoryledger.LedgerService
	clockA  *fakeClock
	clockB  *fakeClock
}

func newTestEnv(t *testing.T) *swapEnv {
	repo, err := db.NewService(db.ServiceConfig{
		EventStoreType:   "badger",
		SwapStoreType:    "badger",
		EventStoreConfig: []interface{}{"", nil},
		SwapStoreConfig:  []interface{}{"", nil},
	})
	require.NoError(t, err)

	ledgerA := inmemoryledger.NewLedgerService(ledgerAId)
	ledgerB := inmemoryledger.NewLedgerService(ledgerBId)
	clockA := &fakeClock{now: baseTime}
	clockB := &fakeClock{now: baseTime}
	ledgerA.SetClock(clockA.Now)
	ledgerB.SetClock(clockB.Now)

	svc, err := application.NewService(
		5, time.Second, safetyMargin, maxWriteAttempts, 4,
		[]ports.LedgerAdapter{ledgerA, ledgerB},
		repo, scheduler.NewScheduler(),
	)
	require.NoError(t, err)

	t.Cleanup(repo.Close)

	return &swapEnv{svc, repo, ledgerA, ledgerB, clockA, clockB}
}

func (e *swapEnv) startSwap(t *testing.T, commitmentHash string) *domain.Swap {
	swap, err := e.svc.StartSwap(context.Background(), application.StartSwapRequest{
		LedgerId:       ledgerAId,
		Principal:      "alice",
		Counterparty:   "bob",
		Amount:         1000,
		AssetRef:       "asset-x",
		Timelock:       legATimelock,
		CommitmentHash: commitmentHash,
	})
	require.NoError(t, err)
	require.NotNil(t, swap)
	require.Equal(t, domain.StateCreated, swap.State)
	return swap
}

func (e *swapEnv) attachCounterLeg(t *testing.T, swapId string) *domain.Swap {
	swap, err := e.svc.AttachCounterLeg(context.Background(), swapId, application.CounterLegRequest{
		LedgerId:     ledgerBId,
		Principal:    "bob",
		Counterparty: "alice",
		Amount:       2000,
		AssetRef:     "asset-y",
		Timelock:     legBTimelock,
	})
	require.NoError(t, err)
	require.NotNil(t, swap)
	require.True(t, swap.HasLegB)
	return swap
}

func (e *swapEnv) tick(t *testing.T, swapId string) *domain.Swap {
	err := e.svc.Tick(context.Background(), swapId)
	require.NoError(t, err)
	swap, err := e.svc.GetStatus(context.Background(), swapId)
	require.NoError(t, err)
	require.NotNil(t, swap)
	return swap
}

func (e *swapEnv) eventCount(t *testing.T, swapId string) int {
	swap, err := e.repo.Events().Load(context.Background(), swapId)
	require.NoError(t, err)
	return len(swap.Events())
}

func TestSwapCompletes(t *testing.T) {
	env := newTestEnv(t)
	env.ledgerA.Fund("alice", "asset-x", 1000)
	env.ledgerB.Fund("bob", "asset-y", 2000)

	swap := env.startSwap(t, "")
	require.Zero(t, env.ledgerA.Balance("alice", "asset-x"))

	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateLegALocked, swap.State)

	swap = env.attachCounterLeg(t, swap.Id)
	require.Zero(t, env.ledgerB.Balance("bob", "asset-y"))

	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateCompleted, swap.State)
	require.Equal(t, domain.EscrowClaimed, swap.LegA.Status)
	require.Equal(t, domain.EscrowClaimed, swap.LegB.Status)
	require.NotEmpty(t, swap.RevealedSecret)
	require.True(t, domain.VerifySecret(swap.RevealedSecret, swap.Hash))

	// Value moved on both ledgers or on neither.
	require.Equal(t, uint64(1000), env.ledgerA.Balance("bob", "asset-x"))
	require.Equal(t, uint64(2000), env.ledgerB.Balance("alice", "asset-y"))

	active, err := env.svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Empty(t, active)

	settled := false
	for len(env.svc.GetEventsChannel(context.Background())) > 0 {
		if _, ok := (<-env.svc.GetEventsChannel(context.Background())).(domain.SwapSettled); ok {
			settled = true
		}
	}
	require.True(t, settled)
}

func TestClaimWindowAtCounterLegExpiry(t *testing.T) {
	env := newTestEnv(t)

	swap := env.startSwap(t, "")
	swap = env.tick(t, swap.Id)
	swap = env.attachCounterLeg(t, swap.Id)

	// Revealing one instant before the counter leg expires still leaves a
	// whole window to counter-claim the first leg, by the ordering invariant.
	env.clockB.now = legBTimelock - 1
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateCompleted, swap.State)
	require.Equal(t, domain.EscrowClaimed, swap.LegA.Status)
	require.Equal(t, domain.EscrowClaimed, swap.LegB.Status)
}

func TestRefundWithoutCounterLeg(t *testing.T) {
	env := newTestEnv(t)
	env.ledgerA.Fund("alice", "asset-x", 1000)

	swap := env.startSwap(t, "")
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateLegALocked, swap.State)

	// Nothing to do until the first leg expires.
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateLegALocked, swap.State)

	env.clockA.now = legATimelock
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateRefunded, swap.State)
	require.Equal(t, domain.EscrowRefunded, swap.LegA.Status)
	require.Equal(t, uint64(1000), env.ledgerA.Balance("alice", "asset-x"))

	// The refund happened exactly once and further ticks are no-ops.
	count := env.eventCount(t, swap.Id)
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateRefunded, swap.State)
	require.Equal(t, count, env.eventCount(t, swap.Id))
	require.Equal(t, uint64(1000), env.ledgerA.Balance("alice", "asset-x"))
}

func TestRefundBothLegsAtTheirOwnExpiries(t *testing.T) {
	env := newTestEnv(t)
	env.ledgerA.Fund("alice", "asset-x", 1000)
	env.ledgerB.Fund("bob", "asset-y", 2000)

	swap := env.startSwap(t, "")
	swap = env.tick(t, swap.Id)
	swap = env.attachCounterLeg(t, swap.Id)

	// The claim keeps failing until the counter leg expires.
	env.ledgerB.SetClaimError(ports.ErrLedgerUnavailable)
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateBothLocked, swap.State)

	env.clockB.now = legBTimelock
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateRefundingB, swap.State)
	require.Equal(t, domain.EscrowRefunded, swap.LegB.Status)
	require.Equal(t, domain.EscrowActive, swap.LegA.Status)
	require.Equal(t, uint64(2000), env.ledgerB.Balance("bob", "asset-y"))

	// The first leg is left alone until its own, later, expiry.
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateRefundingB, swap.State)

	env.clockA.now = legATimelock
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateRefunded, swap.State)
	require.Equal(t, domain.EscrowRefunded, swap.LegA.Status)
	require.Equal(t, uint64(1000), env.ledgerA.Balance("alice", "asset-x"))
}

func TestHashCollision(t *testing.T) {
	env := newTestEnv(t)
	commitment, err := domain.NewSecretCommitment()
	require.NoError(t, err)

	env.startSwap(t, commitment.Hash)

	_, err = env.svc.StartSwap(context.Background(), application.StartSwapRequest{
		LedgerId:  ledgerAId,
		Principal: "carol",
		Amount:    500,
		AssetRef:  "asset-x",
		Timelock:  legATimelock,

		CommitmentHash: commitment.Hash,
	})
	require.ErrorIs(t, err, application.ErrHashCollision)
}

func TestStartSwapValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("rejects_unknown_ledger", func(t *testing.T) {
		_, err := env.svc.StartSwap(context.Background(), application.StartSwapRequest{
			LedgerId:  "ledger-c",
			Principal: "alice",
			Amount:    1000,
			AssetRef:  "asset-x",
			Timelock:  legATimelock,
		})
		require.ErrorIs(t, err, application.ErrUnknownLedger)
	})

	t.Run("rejects_malformed_commitment_hash", func(t *testing.T) {
		_, err := env.svc.StartSwap(context.Background(), application.StartSwapRequest{
			LedgerId:       ledgerAId,
			Principal:      "alice",
			Amount:         1000,
			AssetRef:       "asset-x",
			Timelock:       legATimelock,
			CommitmentHash: "not a hash",
		})
		require.ErrorIs(t, err, ports.ErrInvalidParameters)
	})

	t.Run("rejects_missing_amount", func(t *testing.T) {
		_, err := env.svc.StartSwap(context.Background(), application.StartSwapRequest{
			LedgerId:  ledgerAId,
			Principal: "alice",
			AssetRef:  "asset-x",
			Timelock:  legATimelock,
		})
		require.ErrorIs(t, err, ports.ErrInvalidParameters)
	})
}

func TestTimelockOrderingEnforced(t *testing.T) {
	env := newTestEnv(t)

	swap := env.startSwap(t, "")
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateLegALocked, swap.State)

	for _, timelock := range []int64{legATimelock, legATimelock + 100} {
		_, err := env.svc.AttachCounterLeg(context.Background(), swap.Id, application.CounterLegRequest{
			LedgerId:  ledgerBId,
			Principal: "bob",
			Amount:    2000,
			AssetRef:  "asset-y",
			Timelock:  timelock,
		})
		require.ErrorIs(t, err, ports.ErrInvalidParameters)
		require.Contains(t, err.Error(), "timelock ordering violated")
	}

	// No counter escrow may exist on the other ledger after a rejection.
	swap, err := env.svc.GetStatus(context.Background(), swap.Id)
	require.NoError(t, err)
	require.False(t, swap.HasLegB)
}

func TestCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.ledgerA.Fund("alice", "asset-x", 1000)

	swap := env.startSwap(t, "")
	swap = env.tick(t, swap.Id)

	err := env.svc.CancelSwap(context.Background(), swap.Id)
	require.NoError(t, err)

	// Cancelling twice is fine.
	err = env.svc.CancelSwap(context.Background(), swap.Id)
	require.NoError(t, err)

	_, err = env.svc.AttachCounterLeg(context.Background(), swap.Id, application.CounterLegRequest{
		LedgerId:  ledgerBId,
		Principal: "bob",
		Amount:    2000,
		AssetRef:  "asset-y",
		Timelock:  legBTimelock,
	})
	require.ErrorIs(t, err, ports.ErrInvalidParameters)

	// The locked first leg still refunds at its expiry.
	env.clockA.now = legATimelock
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateRefunded, swap.State)
	require.Equal(t, uint64(1000), env.ledgerA.Balance("alice", "asset-x"))
}

func TestObservedOutOfBandClaim(t *testing.T) {
	env := newTestEnv(t)
	commitment, err := domain.NewSecretCommitment()
	require.NoError(t, err)

	// Started with a foreign commitment: this coordinator holds no secret
	// and can only complete by observing the initiator's claim.
	swap := env.startSwap(t, commitment.Hash)
	swap = env.tick(t, swap.Id)
	swap = env.attachCounterLeg(t, swap.Id)

	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateBothLocked, swap.State)

	_, err = env.ledgerA.ClaimEscrow(context.Background(), swap.LegA.EscrowRef, commitment.Secret)
	require.NoError(t, err)

	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateCompleted, swap.State)
	require.Equal(t, domain.EscrowClaimed, swap.LegA.Status)
	require.Equal(t, domain.EscrowClaimed, swap.LegB.Status)
	require.Equal(t, commitment.Secret, swap.RevealedSecret)
}

func TestPartialFailureOnMissedClaimWindow(t *testing.T) {
	env := newTestEnv(t)

	swap := env.startSwap(t, "")
	swap = env.tick(t, swap.Id)
	swap = env.attachCounterLeg(t, swap.Id)

	// The counter-claim fails after the reveal, and by the time the fault
	// clears the first leg has expired.
	env.ledgerA.SetClaimError(ports.ErrLedgerUnavailable)
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateSecretRevealed, swap.State)
	require.Equal(t, domain.EscrowClaimed, swap.LegB.Status)

	env.ledgerA.SetClaimError(nil)
	env.clockA.now = legATimelock
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StatePartialFailure, swap.State)
	require.NotEmpty(t, swap.FailureReason)
}

func TestPartialFailureOnStuckClaimNearExpiry(t *testing.T) {
	env := newTestEnv(t)

	swap := env.startSwap(t, "")
	swap = env.tick(t, swap.Id)
	swap = env.attachCounterLeg(t, swap.Id)

	env.ledgerA.SetClaimError(ports.ErrLedgerUnavailable)
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateSecretRevealed, swap.State)

	// Far from expiry the claim just keeps being retried.
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateSecretRevealed, swap.State)

	// Within the safety margin, exhausted retries park the swap for an
	// operator instead of silently burning the remaining window.
	env.clockA.now = legATimelock - safetyMargin
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StatePartialFailure, swap.State)
	require.NotEmpty(t, swap.FailureReason)
}

func TestTickToleratesUnreadableLedger(t *testing.T) {
	env := newTestEnv(t)

	swap := env.startSwap(t, "")
	count := env.eventCount(t, swap.Id)

	// An unreadable ledger leaves its leg unobserved: the tick is a no-op
	// and the failure never escapes it.
	env.ledgerA.SetUnavailable(true)
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateCreated, swap.State)
	require.Equal(t, count, env.eventCount(t, swap.Id))

	env.ledgerA.SetUnavailable(false)
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateLegALocked, swap.State)
}

func TestStartStopLifecycle(t *testing.T) {
	env := newTestEnv(t)

	swap := env.startSwap(t, "")

	require.NoError(t, env.svc.Start())

	require.Eventually(t, func() bool {
		got, err := env.svc.GetStatus(context.Background(), swap.Id)
		return err == nil && got.State == domain.StateLegALocked
	}, 3*time.Second, 50*time.Millisecond)

	// Stop drains in-flight ticks before closing the stores, and any poll
	// or expiry wakeup firing afterwards must be refused rather than touch
	// closed stores.
	env.svc.Stop()

	err := env.svc.Tick(context.Background(), swap.Id)
	require.Error(t, err)
}

func TestCrashRecoveryResumesFromProjection(t *testing.T) {
	env := newTestEnv(t)
	env.ledgerA.Fund("alice", "asset-x", 1000)

	swap := env.startSwap(t, "")
	swap = env.tick(t, swap.Id)
	require.Equal(t, domain.StateLegALocked, swap.State)

	// A second service over the same stores and ledgers picks the swap up.
	// The secret died with the first process, so the swap can only refund.
	svc, err := application.NewService(
		5, time.Second, safetyMargin, maxWriteAttempts, 4,
		[]ports.LedgerAdapter{env.ledgerA, env.ledgerB},
		env.repo, scheduler.NewScheduler(),
	)
	require.NoError(t, err)

	active, err := svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, swap.Id, active[0].Id)

	env.clockA.now = legATimelock
	err = svc.Tick(context.Background(), swap.Id)
	require.NoError(t, err)

	recovered, err := svc.GetStatus(context.Background(), swap.Id)
	require.NoError(t, err)
	require.Equal(t, domain.StateRefunded, recovered.State)
	require.Equal(t, uint64(1000), env.ledgerA.Balance("alice", "asset-x"))
}
