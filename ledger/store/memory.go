// Package store provides Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var _ ledger.Store = (*Memory)(nil)

type Memory struct {
	mu          sync.RWMutex
	nextID      int64
	owners      map[ledger.OwnerID]ledger.Owner
	customers   map[ledger.CustomerID]ledger.Customer
	credits     []ledger.CreditEntry
	payments    []ledger.PaymentEntry
	idempotency map[string]ledger.EntryID
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		owners:      make(map[ledger.OwnerID]ledger.Owner),
		customers:   make(map[ledger.CustomerID]ledger.Customer),
		idempotency: make(map[string]ledger.EntryID),
		now:         time.Now,
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// =============================================================================
// OWNERS AND CUSTOMERS
// =============================================================================

func (m *Memory) CreateOwner(_ context.Context, o ledger.Owner) (ledger.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.owners {
		if existing.Email == o.Email {
			return ledger.Owner{}, ledger.ErrEmailTaken
		}
	}
	o.ID = ledger.OwnerID(m.id())
	o.CreatedAt = m.now().UTC()
	m.owners[o.ID] = o
	return o, nil
}

func (m *Memory) GetOwner(_ context.Context, id ledger.OwnerID) (ledger.Owner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.owners[id]
	if !ok {
		return ledger.Owner{}, ledger.ErrOwnerNotFound
	}
	return o, nil
}

func (m *Memory) CreateCustomer(_ context.Context, c ledger.Customer) (ledger.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.owners[c.OwnerID]; !ok {
		return ledger.Customer{}, ledger.ErrOwnerNotFound
	}
	c.ID = ledger.CustomerID(m.id())
	c.CreatedAt = m.now().UTC()
	m.customers[c.ID] = c
	return c, nil
}

func (m *Memory) UpdateCustomer(_ context.Context, c ledger.Customer) (ledger.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.customers[c.ID]
	if !ok {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	existing.Name = c.Name
	existing.Phone = c.Phone
	existing.Email = c.Email
	m.customers[c.ID] = existing
	return existing, nil
}

func (m *Memory) DeleteCustomer(_ context.Context, id ledger.CustomerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.customers[id]; !ok {
		return ledger.ErrCustomerNotFound
	}
	delete(m.customers, id)

	credits := m.credits[:0]
	for _, c := range m.credits {
		if c.CustomerID != id {
			credits = append(credits, c)
		}
	}
	m.credits = credits

	payments := m.payments[:0]
	for _, p := range m.payments {
		if p.CustomerID != id {
			payments = append(payments, p)
		} else if p.IdempotencyKey != "" {
			delete(m.idempotency, p.IdempotencyKey)
		}
	}
	m.payments = payments
	return nil
}

func (m *Memory) GetCustomer(_ context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[id]
	if !ok {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	return c, nil
}

func (m *Memory) ListCustomers(_ context.Context, owner ledger.OwnerID) ([]ledger.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Customer
	for id := ledger.CustomerID(1); id <= ledger.CustomerID(m.nextID); id++ {
		if c, ok := m.customers[id]; ok && c.OwnerID == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

// =============================================================================
// ENTRIES
// =============================================================================

func (m *Memory) ListCredits(_ context.Context, customerID ledger.CustomerID) ([]ledger.CreditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creditsLocked(customerID), nil
}

func (m *Memory) ListPayments(_ context.Context, customerID ledger.CustomerID) ([]ledger.PaymentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paymentsLocked(customerID), nil
}

func (m *Memory) Totals(_ context.Context, customerID ledger.CustomerID) (ledger.Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ledger.TotalsOf(m.creditsLocked(customerID), m.paymentsLocked(customerID)), nil
}

func (m *Memory) AppendCredit(_ context.Context, c ledger.CreditEntry) (ledger.CreditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendCreditLocked(c)
}

func (m *Memory) AppendPayment(_ context.Context, p ledger.PaymentEntry) (ledger.PaymentEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendPaymentLocked(p)
}

func (m *Memory) GetCredit(_ context.Context, id ledger.EntryID) (ledger.CreditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.credits {
		if c.ID == id {
			return c, nil
		}
	}
	return ledger.CreditEntry{}, ledger.ErrEntryNotFound
}

func (m *Memory) GetPayment(_ context.Context, id ledger.EntryID) (ledger.PaymentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payments {
		if p.ID == id {
			return p, nil
		}
	}
	return ledger.PaymentEntry{}, ledger.ErrEntryNotFound
}

func (m *Memory) DeleteCredit(_ context.Context, id ledger.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.credits {
		if c.ID == id {
			m.credits = append(m.credits[:i], m.credits[i+1:]...)
			return nil
		}
	}
	return ledger.ErrEntryNotFound
}

func (m *Memory) DeletePayment(_ context.Context, id ledger.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range m.payments {
		if p.ID == id {
			if p.IdempotencyKey != "" {
				delete(m.idempotency, p.IdempotencyKey)
			}
			m.payments = append(m.payments[:i], m.payments[i+1:]...)
			return nil
		}
	}
	return ledger.ErrEntryNotFound
}

func (m *Memory) ListCreditsByOwner(_ context.Context, owner ledger.OwnerID) ([]ledger.CreditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.CreditEntry
	for _, c := range m.credits {
		if c.OwnerID == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) ListPaymentsByOwner(_ context.Context, owner ledger.OwnerID) ([]ledger.PaymentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.PaymentEntry
	for _, p := range m.payments {
		if p.OwnerID == owner {
			out = append(out, p)
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL SCOPE
// =============================================================================

// WithCustomerTx holds the write lock for the whole of fn. Writes made by fn
// are undone if it fails.
func (m *Memory) WithCustomerTx(_ context.Context, customerID ledger.CustomerID, fn func(ledger.EntryStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.customers[customerID]; !ok {
		return ledger.ErrCustomerNotFound
	}

	nCredits, nPayments := len(m.credits), len(m.payments)
	tx := &memoryTx{m: m}
	if err := fn(tx); err != nil {
		for _, p := range m.payments[nPayments:] {
			if p.IdempotencyKey != "" {
				delete(m.idempotency, p.IdempotencyKey)
			}
		}
		m.credits = m.credits[:nCredits]
		m.payments = m.payments[:nPayments]
		return err
	}
	return nil
}

// memoryTx is the EntryStore handed to WithCustomerTx callbacks. The parent
// lock is already held.
type memoryTx struct {
	m *Memory
}

func (t *memoryTx) ListCredits(_ context.Context, id ledger.CustomerID) ([]ledger.CreditEntry, error) {
	return t.m.creditsLocked(id), nil
}

func (t *memoryTx) ListPayments(_ context.Context, id ledger.CustomerID) ([]ledger.PaymentEntry, error) {
	return t.m.paymentsLocked(id), nil
}

func (t *memoryTx) Totals(_ context.Context, id ledger.CustomerID) (ledger.Totals, error) {
	return ledger.TotalsOf(t.m.creditsLocked(id), t.m.paymentsLocked(id)), nil
}

func (t *memoryTx) AppendCredit(_ context.Context, c ledger.CreditEntry) (ledger.CreditEntry, error) {
	return t.m.appendCreditLocked(c)
}

func (t *memoryTx) AppendPayment(_ context.Context, p ledger.PaymentEntry) (ledger.PaymentEntry, error) {
	return t.m.appendPaymentLocked(p)
}

// =============================================================================
// LOCKED HELPERS
// =============================================================================

func (m *Memory) creditsLocked(id ledger.CustomerID) []ledger.CreditEntry {
	var out []ledger.CreditEntry
	for _, c := range m.credits {
		if c.CustomerID == id {
			out = append(out, c)
		}
	}
	return out
}

func (m *Memory) paymentsLocked(id ledger.CustomerID) []ledger.PaymentEntry {
	var out []ledger.PaymentEntry
	for _, p := range m.payments {
		if p.CustomerID == id {
			out = append(out, p)
		}
	}
	return out
}

func (m *Memory) appendCreditLocked(c ledger.CreditEntry) (ledger.CreditEntry, error) {
	if _, ok := m.customers[c.CustomerID]; !ok {
		return ledger.CreditEntry{}, ledger.ErrCustomerNotFound
	}
	c.ID = ledger.EntryID(m.id())
	c.CreatedAt = m.now().UTC()
	m.credits = append(m.credits, c)
	return c, nil
}

func (m *Memory) appendPaymentLocked(p ledger.PaymentEntry) (ledger.PaymentEntry, error) {
	if _, ok := m.customers[p.CustomerID]; !ok {
		return ledger.PaymentEntry{}, ledger.ErrCustomerNotFound
	}
	if p.IdempotencyKey != "" {
		if _, dup := m.idempotency[p.IdempotencyKey]; dup {
			return ledger.PaymentEntry{}, ledger.ErrDuplicateIdempotencyKey
		}
	}
	p.ID = ledger.EntryID(m.id())
	p.CreatedAt = m.now().UTC()
	m.payments = append(m.payments, p)
	if p.IdempotencyKey != "" {
		m.idempotency[p.IdempotencyKey] = p.ID
	}
	return p, nil
}
