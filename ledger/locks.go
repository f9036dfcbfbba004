package ledger

import "sync"

// CustomerLocks hands out one mutex per customer so payments for the same
// customer run one at a time inside this process. Cross-process
// serialization is the store's job (see Store.WithCustomerTx).
//
// Entries are reference counted and dropped once no goroutine holds or
// waits on them, so the map only holds customers with work in flight.
type CustomerLocks struct {
	mu    sync.Mutex
	locks map[CustomerID]*customerLock
}

type customerLock struct {
	mu   sync.Mutex
	refs int
}

func NewCustomerLocks() *CustomerLocks {
	return &CustomerLocks{locks: make(map[CustomerID]*customerLock)}
}

// Lock acquires the customer's mutex and returns its unlock function.
// The unlock function must be called exactly once.
func (l *CustomerLocks) Lock(id CustomerID) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &customerLock{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// Len is the number of customers with a held or awaited lock.
func (l *CustomerLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
