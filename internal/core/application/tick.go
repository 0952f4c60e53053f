package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/crosslock/swapd/internal/core/domain"
	"github.com/crosslock/swapd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// Tick drives one swap one step forward: observe what the ledgers report,
// then act on whatever the state machine says is due. At most one tick runs
// per swap at a time; a tick that finds the swap busy simply yields to the
// one in flight.
func (s *service) Tick(ctx context.Context, swapId string) error {
	if !s.locks.tryLock(swapId) {
		return nil
	}
	defer s.locks.unlock(swapId)

	swap, err := s.repoManager.Swaps().GetSwapWithId(ctx, swapId)
	if err != nil {
		return err
	}
	if swap.IsTerminal() {
		return nil
	}
	return s.step(ctx, swap)
}

func (s *service) step(ctx context.Context, swap *domain.Swap) error {
	changes := s.observe(ctx, swap)
	if !swap.IsTerminal() {
		changes = append(changes, s.act(ctx, swap)...)
	}
	if len(changes) <= 0 {
		return nil
	}

	if err := s.repoManager.Events().Save(ctx, swap.Id, changes...); err != nil {
		return err
	}

	if swap.IsTerminal() {
		s.secrets.delete(swap.Id)
		s.attempts.reset(swap.Id)
		log.Infof("swap %s reached terminal state %s", swap.Id, swap.State)
	}
	return nil
}

type legView struct {
	ledgerId string
	snap     *ports.EscrowSnapshot
}

// observe reconciles the swap with what each ledger reports about its legs.
// A failed query leaves that leg unobserved for this tick; observation never
// fails a swap on its own.
func (s *service) observe(ctx context.Context, swap *domain.Swap) []domain.SwapEvent {
	changes := make([]domain.SwapEvent, 0)

	views := []legView{{swap.LegA.LedgerId, s.snapshotLeg(ctx, swap, swap.LegA)}}
	if swap.HasLegB {
		views = append(views, legView{swap.LegB.LedgerId, s.snapshotLeg(ctx, swap, swap.LegB)})
	}

	// Pending escrows observed ACTIVE on their ledgers lock their legs.
	if swap.State == domain.StateCreated {
		if snap := views[0].snap; snap != nil && snap.Status == domain.EscrowActive {
			if events, err := swap.LockLegA(snap.Timelock); err == nil {
				changes = append(changes, events...)
			}
		}
	}
	if swap.State == domain.StateLegALocked && swap.HasLegB {
		if snap := views[1].snap; snap != nil && snap.Status == domain.EscrowActive {
			if events, err := swap.LockLegB(snap.Timelock); err == nil {
				changes = append(changes, events...)
			}
		}
	}

	// A claim seen on either ledger is a reveal: the pre-image is public from
	// that moment, even if it happened while a refund was already underway.
	if swap.State == domain.StateBothLocked || swap.State == domain.StateRefundingB {
		for _, view := range views {
			if view.snap == nil || view.snap.Status != domain.EscrowClaimed {
				continue
			}
			if !domain.VerifySecret(view.snap.Secret, swap.Hash) {
				log.Warnf(
					"ledger %s reports a claim of swap %s with a non-matching secret",
					view.ledgerId, swap.Id,
				)
				continue
			}
			events, err := swap.Reveal(view.snap.Secret, view.ledgerId)
			if err != nil {
				continue
			}
			log.Infof("observed out-of-band claim of swap %s on ledger %s", swap.Id, view.ledgerId)
			changes = append(changes, events...)
			break
		}
	}

	// After a reveal the remaining leg may get claimed by its holder directly.
	if swap.State == domain.StateSecretRevealed {
		for _, view := range views {
			if view.snap == nil || view.snap.Status != domain.EscrowClaimed {
				continue
			}
			if events, err := swap.ClaimCounterLeg(view.ledgerId); err == nil {
				changes = append(changes, events...)
			}
		}
	}

	// Refunds executed by the parties themselves count the same as our own.
	if swap.State == domain.StateRefundingA || swap.State == domain.StateRefundingB {
		for _, view := range views {
			if view.snap == nil || view.snap.Status != domain.EscrowRefunded {
				continue
			}
			if events, err := swap.ConfirmRefund(view.ledgerId); err == nil {
				changes = append(changes, events...)
			}
		}
	}

	// The secret is public but the remaining escrow was refunded at expiry:
	// value moved on one ledger only, the swap cannot settle cleanly anymore.
	if swap.State == domain.StateSecretRevealed {
		for _, view := range views {
			if view.snap == nil || view.snap.Status != domain.EscrowRefunded {
				continue
			}
			leg, err := legOf(swap, view.ledgerId)
			if err != nil || leg.Status != domain.EscrowActive {
				continue
			}
			events, err := swap.MarkPartialFailure(
				fmt.Sprintf("leg on %s refunded after the secret was revealed", view.ledgerId),
			)
			if err == nil {
				changes = append(changes, events...)
			}
		}
	}

	return changes
}

// snapshotLeg queries one leg's escrow on its own ledger. A failed read
// returns nil, leaving the leg unobserved for this tick; reads are retried
// on every cycle.
func (s *service) snapshotLeg(
	ctx context.Context, swap *domain.Swap, leg domain.EscrowRecord,
) *ports.EscrowSnapshot {
	adapter, ok := s.ledgers[leg.LedgerId]
	if !ok {
		return nil
	}
	snapshot, err := s.queryEscrow(ctx, adapter, leg.EscrowRef)
	if err != nil {
		log.WithError(err).Debugf(
			"failed to query leg on %s for swap %s", leg.LedgerId, swap.Id,
		)
		return nil
	}
	return snapshot
}

func (s *service) act(ctx context.Context, swap *domain.Swap) []domain.SwapEvent {
	switch swap.State {
	case domain.StateCreated, domain.StateLegALocked:
		return s.maybeRefundFirstLeg(ctx, swap)
	case domain.StateBothLocked:
		return s.driveClaims(ctx, swap)
	case domain.StateSecretRevealed:
		return s.driveCounterClaim(ctx, swap)
	case domain.StateRefundingA, domain.StateRefundingB:
		return s.driveRefunds(ctx, swap)
	default:
		return nil
	}
}

// maybeRefundFirstLeg refunds legA once it expires with no counter leg
// locked. Expiry is judged against the clock of legA's own ledger.
func (s *service) maybeRefundFirstLeg(ctx context.Context, swap *domain.Swap) []domain.SwapEvent {
	adapter, ok := s.ledgers[swap.LegA.LedgerId]
	if !ok {
		return nil
	}
	now, err := s.ledgerNow(ctx, adapter)
	if err != nil {
		return nil
	}
	if now < swap.LegA.Timelock {
		return nil
	}

	changes, err := swap.StartRefund("first leg expired without a locked counter leg")
	if err != nil {
		return nil
	}
	return append(changes, s.driveRefunds(ctx, swap)...)
}

// driveClaims performs the reveal: claim the counter leg with the held
// secret, provided that leg has not expired. A coordinator started with a
// foreign commitment hash holds no secret and only ever completes through
// an observed reveal.
func (s *service) driveClaims(ctx context.Context, swap *domain.Swap) []domain.SwapEvent {
	adapter, ok := s.ledgers[swap.LegB.LedgerId]
	if !ok {
		return nil
	}
	now, err := s.ledgerNow(ctx, adapter)
	if err != nil {
		return nil
	}
	if now >= swap.LegB.Timelock {
		changes, err := swap.StartRefund("counter leg expired before it could be claimed")
		if err != nil {
			return nil
		}
		return append(changes, s.driveRefunds(ctx, swap)...)
	}

	secret, ok := s.secrets.view(swap.Id)
	if !ok {
		return nil
	}
	if !domain.VerifySecret(secret, swap.Hash) {
		log.Errorf("held secret for swap %s does not match its commitment, discarding it", swap.Id)
		s.secrets.delete(swap.Id)
		return nil
	}

	if _, err := s.claimEscrow(ctx, adapter, swap.LegB.EscrowRef, secret); err != nil {
		switch {
		case errors.Is(err, ports.ErrEscrowExpired):
			changes, rErr := swap.StartRefund("counter leg expired before it could be claimed")
			if rErr != nil {
				return nil
			}
			return append(changes, s.driveRefunds(ctx, swap)...)
		case errors.Is(err, ports.ErrEscrowNotActive), errors.Is(err, ports.ErrEscrowNotFound):
			// Resolved out of band, the next observation settles it.
			return nil
		default:
			log.WithError(err).Warnf("claim of counter leg failed for swap %s", swap.Id)
			return nil
		}
	}

	changes, err := swap.Reveal(secret, swap.LegB.LedgerId)
	if err != nil {
		return nil
	}
	log.Debugf("revealed secret for swap %s by claiming leg on %s", swap.Id, swap.LegB.LedgerId)
	return append(changes, s.driveCounterClaim(ctx, swap)...)
}

// driveCounterClaim claims the leg opposite the reveal with the now-public
// secret. Repeated failures close to that leg's expiry escalate to
// PARTIAL_FAILURE so an operator gets alerted before the claim window shuts.
func (s *service) driveCounterClaim(ctx context.Context, swap *domain.Swap) []domain.SwapEvent {
	leg, ok := remainingActiveLeg(swap)
	if !ok {
		return nil
	}
	adapter, ok := s.ledgers[leg.LedgerId]
	if !ok {
		return nil
	}
	now, nowErr := s.ledgerNow(ctx, adapter)

	if _, err := s.claimEscrow(ctx, adapter, leg.EscrowRef, swap.RevealedSecret); err != nil {
		switch {
		case errors.Is(err, ports.ErrEscrowExpired):
			changes, mErr := swap.MarkPartialFailure(
				fmt.Sprintf("leg on %s expired before the counter claim landed", leg.LedgerId),
			)
			if mErr != nil {
				return nil
			}
			return changes
		case errors.Is(err, ports.ErrEscrowNotActive), errors.Is(err, ports.ErrEscrowNotFound):
			// Resolved out of band, the next observation settles it.
			return nil
		default:
			attempts := s.attempts.bump(swap.Id)
			log.WithError(err).Warnf(
				"claim of leg on %s failed for swap %s (attempt %d)",
				leg.LedgerId, swap.Id, attempts,
			)
			if attempts >= s.maxWriteAttempts && nowErr == nil && leg.Timelock-now <= s.safetyMargin {
				log.Errorf(
					"giving up on claiming leg on %s for swap %s with the secret public, operator action required",
					leg.LedgerId, swap.Id,
				)
				changes, mErr := swap.MarkPartialFailure(
					fmt.Sprintf("claim on %s kept failing close to expiry", leg.LedgerId),
				)
				if mErr != nil {
					return nil
				}
				return changes
			}
			return nil
		}
	}

	s.attempts.reset(swap.Id)
	changes, err := swap.ClaimCounterLeg(leg.LedgerId)
	if err != nil {
		return nil
	}
	log.Debugf("claimed counter leg on %s for swap %s", leg.LedgerId, swap.Id)
	return changes
}

// driveRefunds refunds every leg that is both still locked and past its own
// ledger's expiry. A leg whose timelock lies in the future is left alone and
// refunds at its own, later, expiry.
func (s *service) driveRefunds(ctx context.Context, swap *domain.Swap) []domain.SwapEvent {
	changes := make([]domain.SwapEvent, 0)

	legs := []domain.EscrowRecord{swap.LegA}
	if swap.HasLegB {
		legs = append(legs, swap.LegB)
	}
	for _, leg := range legs {
		if leg.IsTerminal() {
			continue
		}
		adapter, ok := s.ledgers[leg.LedgerId]
		if !ok {
			continue
		}
		now, err := s.ledgerNow(ctx, adapter)
		if err != nil {
			continue
		}
		if now < leg.Timelock {
			continue
		}

		if _, err := s.refundEscrow(ctx, adapter, leg.EscrowRef); err != nil {
			changes = append(changes, s.handleRefundFailure(ctx, swap, adapter, leg, err)...)
			continue
		}
		if events, err := swap.ConfirmRefund(leg.LedgerId); err == nil {
			log.Debugf("refunded leg on %s for swap %s", leg.LedgerId, swap.Id)
			changes = append(changes, events...)
		}
	}
	return changes
}

func (s *service) handleRefundFailure(
	ctx context.Context, swap *domain.Swap,
	adapter ports.LedgerAdapter, leg domain.EscrowRecord, err error,
) []domain.SwapEvent {
	switch {
	case errors.Is(err, ports.ErrLedgerUnavailable), errors.Is(err, ports.ErrTimelockNotExpired):
		// Retried on the next tick.
		return nil
	case errors.Is(err, ports.ErrEscrowNotActive), errors.Is(err, ports.ErrEscrowNotFound):
		snapshot, qErr := s.queryEscrow(ctx, adapter, leg.EscrowRef)
		if qErr != nil {
			return nil
		}
		switch snapshot.Status {
		case domain.EscrowClaimed:
			// Claimed under our feet: the reveal wins over the refund.
			if events, rErr := swap.Reveal(snapshot.Secret, leg.LedgerId); rErr == nil {
				log.Infof("leg on %s claimed during refund of swap %s", leg.LedgerId, swap.Id)
				return events
			}
			return swap.Fail(fmt.Sprintf("leg on %s was claimed while being refunded", leg.LedgerId))
		case domain.EscrowRefunded:
			if events, cErr := swap.ConfirmRefund(leg.LedgerId); cErr == nil {
				return events
			}
			return nil
		default:
			return nil
		}
	default:
		log.WithError(err).Warnf("refund of leg on %s failed for swap %s", leg.LedgerId, swap.Id)
		return nil
	}
}

func remainingActiveLeg(swap *domain.Swap) (domain.EscrowRecord, bool) {
	if swap.LegA.Status == domain.EscrowActive {
		return swap.LegA, true
	}
	if swap.HasLegB && swap.LegB.Status == domain.EscrowActive {
		return swap.LegB, true
	}
	return domain.EscrowRecord{}, false
}

func legOf(swap *domain.Swap, ledgerId string) (domain.EscrowRecord, error) {
	switch {
	case ledgerId == swap.LegA.LedgerId:
		return swap.LegA, nil
	case swap.HasLegB && ledgerId == swap.LegB.LedgerId:
		return swap.LegB, nil
	default:
		return domain.EscrowRecord{}, fmt.Errorf("swap has no leg on ledger %s", ledgerId)
	}
}
