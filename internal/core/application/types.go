package application

import "sync"

// secretsMap holds unrevealed pre-images in memory only. A secret must never
// reach the event store or the logs before its swap enters the reveal phase;
// losing the process before then leaves the swap refundable, not claimable.
type secretsMap struct {
	lock    *sync.RWMutex
	secrets map[string][]byte
}

func newSecretsMap() *secretsMap {
	return &secretsMap{
		lock:    &sync.RWMutex{},
		secrets: make(map[string][]byte),
	}
}

func (m *secretsMap) put(swapId string, secret []byte) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.secrets[swapId] = append([]byte{}, secret...)
}

func (m *secretsMap) view(swapId string) ([]byte, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	secret, ok := m.secrets[swapId]
	if !ok {
		return nil, false
	}
	return append([]byte{}, secret...), true
}

func (m *secretsMap) delete(swapId string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.secrets, swapId)
}

// swapLocks serializes work per swap: at most one tick in flight for a given
// swap, while different swaps proceed concurrently. No lock is ever held
// across another swap's ledger calls.
type swapLocks struct {
	mtx   *sync.Mutex
	locks map[string]*sync.Mutex
}

func newSwapLocks() *swapLocks {
	return &swapLocks{
		mtx:   &sync.Mutex{},
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *swapLocks) get(swapId string) *sync.Mutex {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if _, ok := l.locks[swapId]; !ok {
		l.locks[swapId] = &sync.Mutex{}
	}
	return l.locks[swapId]
}

func (l *swapLocks) lock(swapId string) {
	l.get(swapId).Lock()
}

func (l *swapLocks) tryLock(swapId string) bool {
	return l.get(swapId).TryLock()
}

func (l *swapLocks) unlock(swapId string) {
	l.get(swapId).Unlock()
}

// attemptsMap counts consecutive failed write attempts per swap, used to
// decide when a stuck claim close to an expiry must escalate.
type attemptsMap struct {
	lock   *sync.Mutex
	counts map[string]int
}

func newAttemptsMap() *attemptsMap {
	return &attemptsMap{
		lock:   &sync.Mutex{},
		counts: make(map[string]int),
	}
}

func (m *attemptsMap) bump(swapId string) int {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.counts[swapId]++
	return m.counts[swapId]
}

func (m *attemptsMap) reset(swapId string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.counts, swapId)
}
