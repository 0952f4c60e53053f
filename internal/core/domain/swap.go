package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StateCreated SwapState = iota
	StateLegALocked
	StateBothLocked
	StateSecretRevealed
	StateCompleted
	StatePartialFailure
	StateRefundingA
	StateRefundingB
	StateRefunded
	StateFailed
)

type SwapState int

func (s SwapState) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateLegALocked:
		return "LEG_A_LOCKED"
	case StateBothLocked:
		return "BOTH_LOCKED"
	case StateSecretRevealed:
		return "SECRET_REVEALED"
	case StateCompleted:
		return "COMPLETED"
	case StatePartialFailure:
		return "PARTIAL_FAILURE"
	case StateRefundingA:
		return "REFUNDING_A"
	case StateRefundingB:
		return "REFUNDING_B"
	case StateRefunded:
		return "REFUNDED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNDEFINED"
	}
}

func (s SwapState) IsTerminal() bool {
	switch s {
	case StateCompleted, StatePartialFailure, StateRefunded, StateFailed:
		return true
	default:
		return false
	}
}

// Swap composes two escrow records under one secret hash and owns the
// whole-swap lifecycle. State is advanced only through the transition
// methods below, each raising typed events that can be replayed with
// NewSwapFromEvents.
type Swap struct {
	Id              string
	Hash            string
	LegA            EscrowRecord
	LegB            EscrowRecord
	HasLegB         bool
	State           SwapState
	RevealedSecret  []byte
	FailureReason   string
	CancelRequested bool
	Version         uint

	changes []SwapEvent
}

func NewSwap(hash string) *Swap {
	return &Swap{
		Id:      uuid.New().String(),
		Hash:    hash,
		changes: make([]SwapEvent, 0),
	}
}

func NewSwapFromEvents(events []SwapEvent) *Swap {
	s := &Swap{}

	for _, event := range events {
		s.On(event, true)
	}

	s.changes = append([]SwapEvent{}, events...)

	return s
}

func (s *Swap) Events() []SwapEvent {
	return s.changes
}

func (s *Swap) On(event SwapEvent, replayed bool) {
	switch e := event.(type) {
	case SwapStarted:
		s.Id = e.Id
		s.Hash = e.Hash
		s.LegA = e.LegA
		s.LegA.Status = EscrowPending
		s.State = StateCreated
	case CancellationRequested:
		s.CancelRequested = true
	case LegALocked:
		s.LegA.Status = EscrowActive
		if e.Timelock > 0 {
			s.LegA.Timelock = e.Timelock
		}
		s.State = StateLegALocked
	case CounterLegAttached:
		s.LegB = e.LegB
		s.LegB.Status = EscrowPending
		s.HasLegB = true
	case LegBLocked:
		s.LegB.Status = EscrowActive
		if e.Timelock > 0 {
			s.LegB.Timelock = e.Timelock
		}
		s.State = StateBothLocked
	case SecretRevealed:
		s.RevealedSecret = append([]byte{}, e.Secret...)
		s.setLegStatus(e.LedgerId, EscrowClaimed)
		s.State = StateSecretRevealed
	case CounterLegClaimed:
		s.setLegStatus(e.LedgerId, EscrowClaimed)
	case SwapSettled:
		s.State = StateCompleted
	case RefundStarted:
		if e.LedgerId == s.LegB.LedgerId && s.HasLegB {
			s.State = StateRefundingB
		} else {
			s.State = StateRefundingA
		}
		s.FailureReason = e.Reason
	case LegRefunded:
		s.setLegStatus(e.LedgerId, EscrowRefunded)
	case SwapRefunded:
		s.State = StateRefunded
	case SwapFailed:
		s.State = StateFailed
		s.FailureReason = e.Reason
	case SwapPartiallyFailed:
		s.State = StatePartialFailure
		s.FailureReason = e.Reason
	}

	if replayed {
		s.Version++
	}
}

// ValidateFirstLeg checks the first leg's parameters without mutating the
// swap, so bad input is rejected before any ledger call is made.
func (s *Swap) ValidateFirstLeg(legA EscrowRecord) error {
	if len(s.LegA.LedgerId) > 0 {
		return fmt.Errorf("swap already started")
	}
	if err := legA.validate(); err != nil {
		return fmt.Errorf("invalid first leg: %s", err)
	}
	if legA.Hash != s.Hash {
		return fmt.Errorf("first leg hash does not match swap commitment")
	}
	return nil
}

// Start registers the first leg of the swap. The escrow has been submitted
// to its ledger but not yet observed, so the leg starts out PENDING.
func (s *Swap) Start(legA EscrowRecord) ([]SwapEvent, error) {
	if err := s.ValidateFirstLeg(legA); err != nil {
		return nil, err
	}
	if len(legA.EscrowRef) <= 0 {
		return nil, fmt.Errorf("missing first leg escrow ref")
	}

	event := SwapStarted{
		Id:        s.Id,
		Hash:      s.Hash,
		LegA:      legA,
		Timestamp: time.Now().Unix(),
	}
	s.raise(event)

	return []SwapEvent{event}, nil
}

// RequestCancellation stops the swap from accepting a counter leg. It is
// allowed only before a counter leg exists; once legB is on a ledger the
// swap can only run to COMPLETED or REFUNDED.
func (s *Swap) RequestCancellation() ([]SwapEvent, error) {
	if s.State != StateCreated && s.State != StateLegALocked {
		return nil, fmt.Errorf("not in a valid state to cancel")
	}
	if s.HasLegB {
		return nil, fmt.Errorf("counter leg already attached, swap can no longer be cancelled")
	}
	if s.CancelRequested {
		return nil, nil
	}

	event := CancellationRequested{
		Id:        s.Id,
		Timestamp: time.Now().Unix(),
	}
	s.raise(event)

	return []SwapEvent{event}, nil
}

// LockLegA records that the first escrow was observed ACTIVE, with the
// expiry its own ledger reports.
func (s *Swap) LockLegA(timelock int64) ([]SwapEvent, error) {
	if s.State != StateCreated {
		return nil, fmt.Errorf("not in a valid state to lock first leg")
	}

	event := LegALocked{
		Id:        s.Id,
		Timelock:  timelock,
		Timestamp: time.Now().Unix(),
	}
	s.raise(event)

	return []SwapEvent{event}, nil
}

// ValidateCounterLeg checks the counter leg against the swap without
// mutating it. It enforces the timelock-ordering invariant that makes the
// scheme safe: the responder's escrow must expire strictly before the
// initiator's, so that a reveal always leaves the initiator a window to
// counter-claim.
func (s *Swap) ValidateCounterLeg(legB EscrowRecord) error {
	if s.State != StateLegALocked {
		return fmt.Errorf("not in a valid state to attach counter leg")
	}
	if s.HasLegB {
		return fmt.Errorf("counter leg already attached")
	}
	if s.CancelRequested {
		return fmt.Errorf("cancellation requested, swap no longer accepts a counter leg")
	}
	if err := legB.validate(); err != nil {
		return fmt.Errorf("invalid counter leg: %s", err)
	}
	if legB.Hash != s.Hash {
		return fmt.Errorf("counter leg hash does not match swap commitment")
	}
	if legB.LedgerId == s.LegA.LedgerId {
		return fmt.Errorf("counter leg must live on a different ledger")
	}
	if legB.Timelock >= s.LegA.Timelock {
		return fmt.Errorf(
			"timelock ordering violated: counter leg expires at %d, not strictly before first leg at %d",
			legB.Timelock, s.LegA.Timelock,
		)
	}
	return nil
}

func (s *Swap) AttachCounterLeg(legB EscrowRecord) ([]SwapEvent, error) {
	if err := s.ValidateCounterLeg(legB); err != nil {
		return nil, err
	}
	if len(legB.EscrowRef) <= 0 {
		return nil, fmt.Errorf("missing counter leg escrow ref")
	}

	event := CounterLegAttached{
		Id:        s.Id,
		LegB:      legB,
		Timestamp: time.Now().Unix(),
	}
	s.raise(event)

	return []SwapEvent{event}, nil
}

func (s *Swap) LockLegB(timelock int64) ([]SwapEvent, error) {
	if s.State != StateLegALocked || !s.HasLegB {
		return nil, fmt.Errorf("not in a valid state to lock counter leg")
	}

	event := LegBLocked{
		Id:        s.Id,
		Timelock:  timelock,
		Timestamp: time.Now().Unix(),
	}
	s.raise(event)

	return []SwapEvent{event}, nil
}

// Reveal records the first claim of either leg. Any valid reveal advances
// the swap, including one learned by observing an out-of-band claim while a
// refund was already underway.
func (s *Swap) Reveal(secret []byte, ledgerId string) ([]SwapEvent, error) {
	if s.State != StateBothLocked && s.State != StateRefundingB {
		return nil, fmt.Errorf("not in a valid state to reveal secret")
	}
	if !VerifySecret(secret, s.Hash) {
		return nil, fmt.Errorf("secret does not match swap commitment")
	}
	leg, err := s.leg(ledgerId)
	if err != nil {
		return nil, err
	}
	if leg.Status != EscrowActive {
		return nil, fmt.Errorf("revealing leg on %s is not active", ledgerId)
	}

	event := SecretRevealed{
		Id:        s.Id,
		LedgerId:  ledgerId,
		Secret:    append([]byte{}, secret...),
		Timestamp: time.Now().Unix(),
	}
	s.raise(event)

	return []SwapEvent{event}, nil
}

// ClaimCounterLeg records the claim of the leg opposite the reveal and
// settles the swap once both legs end up CLAIMED.
func (s *Swap) ClaimCounterLeg(ledgerId string) ([]SwapEvent, error) {
	if s.State != StateSecretRevealed {
		return nil, fmt.Errorf("not in a valid state to claim counter leg")
	}
	leg, err := s.leg(ledgerId)
	if err != nil {
		return nil, err
	}
	if leg.Status != EscrowActive {
		return nil, fmt.Errorf("counter leg on %s is not active", ledgerId)
	}

	events := []SwapEvent{
		CounterLegClaimed{
			Id:        s.Id,
			LedgerId:  ledgerId,
			Timestamp: time.Now().Unix(),
		},
	}
	s.raise(events[0])

	if s.LegA.Status == EscrowClaimed && s.LegB.Status == EscrowClaimed {
		settled := SwapSettled{Id: s.Id, Timestamp: time.Now().Unix()}
		s.raise(settled)
		events = append(events, settled)
	}

	return events, nil
}

// StartRefund moves the swap onto a refund path. Which leg drives the
// refund follows from how far the swap got: before a counter leg is locked
// only legA is at stake, afterwards legB expires first by the ordering
// invariant.
func (s *Swap) StartRefund(reason string) ([]SwapEvent, error) {
	var ledgerId string
	switch s.State {
	case StateCreated, StateLegALocked:
		ledgerId = s.LegA.LedgerId
	case StateBothLocked:
		ledgerId = s.LegB.LedgerId
	default:
		return nil, fmt.Errorf("not in a valid state to start a refund")
	}

	event := RefundStarted{
		Id:        s.Id,
		LedgerId:  ledgerId,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	}
	s.raise(event)

	return []SwapEvent{event}, nil
}

// ConfirmRefund records a successful refund of one leg. The swap terminates
// at REFUNDED only once no locked leg remains, so a refunding swap keeps
// being driven until every still-active escrow is returned.
func (s *Swap) ConfirmRefund(ledgerId string) ([]SwapEvent, error) {
	if s.State != StateRefundingA && s.State != StateRefundingB {
		return nil, fmt.Errorf("not in a valid state to confirm a refund")
	}
	leg, err := s.leg(ledgerId)
	if err != nil {
		return nil, err
	}
	if leg.IsTerminal() {
		return nil, fmt.Errorf("leg on %s already settled", ledgerId)
	}

	events := []SwapEvent{
		LegRefunded{
			Id:        s.Id,
			LedgerId:  ledgerId,
			Timestamp: time.Now().Unix(),
		},
	}
	s.raise(events[0])

	if !s.hasLockedLeg() {
		refunded := SwapRefunded{Id: s.Id, Timestamp: time.Now().Unix()}
		s.raise(refunded)
		events = append(events, refunded)
	}

	return events, nil
}

// MarkPartialFailure parks the swap for manual intervention: the secret is
// public so the remaining leg stays claimable by whoever holds it, but
// automated recovery gave up before that leg's own expiry.
func (s *Swap) MarkPartialFailure(reason string) ([]SwapEvent, error) {
	if s.State != StateSecretRevealed {
		return nil, fmt.Errorf("not in a valid state to mark partial failure")
	}

	event := SwapPartiallyFailed{
		Id:        s.Id,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	}
	s.raise(event)

	return []SwapEvent{event}, nil
}

func (s *Swap) Fail(reason string) []SwapEvent {
	if s.State.IsTerminal() {
		return nil
	}

	event := SwapFailed{
		Id:        s.Id,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	}
	s.raise(event)

	return []SwapEvent{event}
}

func (s *Swap) IsTerminal() bool {
	return s.State.IsTerminal()
}

// Copy returns a detached snapshot safe to hand to external readers.
func (s Swap) Copy() Swap {
	cp := s
	cp.RevealedSecret = append([]byte{}, s.RevealedSecret...)
	cp.changes = nil
	return cp
}

func (s *Swap) leg(ledgerId string) (*EscrowRecord, error) {
	switch {
	case ledgerId == s.LegA.LedgerId:
		return &s.LegA, nil
	case s.HasLegB && ledgerId == s.LegB.LedgerId:
		return &s.LegB, nil
	default:
		return nil, fmt.Errorf("swap has no leg on ledger %s", ledgerId)
	}
}

func (s *Swap) setLegStatus(ledgerId string, status EscrowStatus) {
	if leg, err := s.leg(ledgerId); err == nil {
		leg.Status = status
	}
}

func (s *Swap) hasLockedLeg() bool {
	if s.LegA.Status == EscrowActive || s.LegA.Status == EscrowPending {
		return true
	}
	if s.HasLegB && (s.LegB.Status == EscrowActive || s.LegB.Status == EscrowPending) {
		return true
	}
	return false
}

func (s *Swap) raise(event SwapEvent) {
	if s.changes == nil {
		s.changes = make([]SwapEvent, 0)
	}
	s.changes = append(s.changes, event)
	s.On(event, false)
}
