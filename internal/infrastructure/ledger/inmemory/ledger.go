package inmemoryledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crosslock/swapd/internal/core/domain"
	"github.com/crosslock/swapd/internal/core/ports"
	"github.com/google/uuid"
)

type escrow struct {
	principal    string
	counterparty string
	amount       uint64
	assetRef     string
	hash         string
	timelock     int64
	status       domain.EscrowStatus
	secret       []byte
}

// LedgerService simulates one ledger with native hash-time-locked escrows.
// Each instance keeps its own clock, which can be swapped out to drive
// expiries deterministically.
type LedgerService struct {
	id string

	lock            *sync.Mutex
	escrows         map[string]*escrow
	balances        map[string]map[string]uint64
	enforceBalances bool
	unavailable     bool
	claimErr        error
	clock           func() int64
}

func NewLedgerService(id string) *LedgerService {
	return &LedgerService{
		id:       id,
		lock:     &sync.Mutex{},
		escrows:  make(map[string]*escrow),
		balances: make(map[string]map[string]uint64),
		clock:    func() int64 { return time.Now().Unix() },
	}
}

func (l *LedgerService) LedgerId() string {
	return l.id
}

func (l *LedgerService) Now(ctx context.Context) (int64, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.unavailable {
		return 0, ports.ErrLedgerUnavailable
	}
	return l.clock(), nil
}

func (l *LedgerService) CreateEscrow(
	ctx context.Context, params ports.CreateEscrowParams,
) (string, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.unavailable {
		return "", ports.ErrLedgerUnavailable
	}

	if len(params.Principal) <= 0 || params.Amount <= 0 || len(params.AssetRef) <= 0 {
		return "", ports.ErrInvalidParameters
	}
	if !domain.IsValidCommitmentHash(params.Hash) {
		return "", ports.ErrInvalidParameters
	}
	if params.Timelock <= l.clock() {
		return "", fmt.Errorf("%w: timelock not in the future", ports.ErrInvalidParameters)
	}
	if l.enforceBalances {
		if l.balanceOf(params.Principal, params.AssetRef) < params.Amount {
			return "", ports.ErrInsufficientFunds
		}
		l.credit(params.Principal, params.AssetRef, -int64(params.Amount))
	}

	escrowRef := uuid.New().String()
	l.escrows[escrowRef] = &escrow{
		principal:    params.Principal,
		counterparty: params.Counterparty,
		amount:       params.Amount,
		assetRef:     params.AssetRef,
		hash:         params.Hash,
		timelock:     params.Timelock,
		status:       domain.EscrowActive,
	}
	return escrowRef, nil
}

func (l *LedgerService) ClaimEscrow(
	ctx context.Context, escrowRef string, secret []byte,
) (*ports.Receipt, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.unavailable {
		return nil, ports.ErrLedgerUnavailable
	}
	if l.claimErr != nil {
		return nil, l.claimErr
	}

	esc, ok := l.escrows[escrowRef]
	if !ok {
		return nil, ports.ErrEscrowNotFound
	}
	if esc.status != domain.EscrowActive {
		return nil, ports.ErrEscrowNotActive
	}
	now := l.clock()
	if now >= esc.timelock {
		return nil, ports.ErrEscrowExpired
	}
	if !domain.VerifySecret(secret, esc.hash) {
		return nil, ports.ErrSecretMismatch
	}

	esc.status = domain.EscrowClaimed
	esc.secret = append([]byte{}, secret...)
	if l.enforceBalances && len(esc.counterparty) > 0 {
		l.credit(esc.counterparty, esc.assetRef, int64(esc.amount))
	}
	return &ports.Receipt{TxRef: uuid.New().String(), Timestamp: now}, nil
}

func (l *LedgerService) RefundEscrow(
	ctx context.Context, escrowRef string,
) (*ports.Receipt, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.unavailable {
		return nil, ports.ErrLedgerUnavailable
	}

	esc, ok := l.escrows[escrowRef]
	if !ok {
		return nil, ports.ErrEscrowNotFound
	}
	if esc.status != domain.EscrowActive {
		return nil, ports.ErrEscrowNotActive
	}
	now := l.clock()
	if now < esc.timelock {
		return nil, ports.ErrTimelockNotExpired
	}

	esc.status = domain.EscrowRefunded
	if l.enforceBalances {
		l.credit(esc.principal, esc.assetRef, int64(esc.amount))
	}
	return &ports.Receipt{TxRef: uuid.New().String(), Timestamp: now}, nil
}

func (l *LedgerService) QueryEscrow(
	ctx context.Context, escrowRef string,
) (*ports.EscrowSnapshot, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.unavailable {
		return nil, ports.ErrLedgerUnavailable
	}

	esc, ok := l.escrows[escrowRef]
	if !ok {
		return nil, ports.ErrEscrowNotFound
	}

	snapshot := &ports.EscrowSnapshot{
		EscrowRef:    escrowRef,
		Principal:    esc.principal,
		Counterparty: esc.counterparty,
		Amount:       esc.amount,
		AssetRef:     esc.assetRef,
		Hash:         esc.hash,
		Timelock:     esc.timelock,
		Status:       esc.status,
	}
	// The pre-image becomes public ledger data once a claim lands.
	if esc.status == domain.EscrowClaimed {
		snapshot.Secret = append([]byte{}, esc.secret...)
	}
	return snapshot, nil
}

// Fund credits an account and turns on balance enforcement for this ledger.
func (l *LedgerService) Fund(account, assetRef string, amount uint64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.enforceBalances = true
	l.credit(account, assetRef, int64(amount))
}

func (l *LedgerService) Balance(account, assetRef string) uint64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.balanceOf(account, assetRef)
}

// SetUnavailable makes every call fail with the unavailability error until
// flipped back, simulating an outage.
func (l *LedgerService) SetUnavailable(unavailable bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.unavailable = unavailable
}

// SetClaimError makes claims fail with the given error while every other
// call keeps working, simulating a write-path fault.
func (l *LedgerService) SetClaimError(err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.claimErr = err
}

// SetClock replaces the ledger's clock. Expiries on this ledger are judged
// against whatever the injected clock returns.
func (l *LedgerService) SetClock(clock func() int64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.clock = clock
}

func (l *LedgerService) balanceOf(account, assetRef string) uint64 {
	if assets, ok := l.balances[account]; ok {
		return assets[assetRef]
	}
	return 0
}

func (l *LedgerService) credit(account, assetRef string, amount int64) {
	if _, ok := l.balances[account]; !ok {
		l.balances[account] = make(map[string]uint64)
	}
	l.balances[account][assetRef] = uint64(int64(l.balances[account][assetRef]) + amount)
}
