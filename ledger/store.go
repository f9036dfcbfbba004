/*
store.go - Persistence interface for owners, customers and entries

PURPOSE:
  Defines the boundary between the ledger core and the database. The core
  never sees SQL; stores never make business decisions.

KEY INTERFACES:
  EntryStore: per-customer entry reads and appends (the payment hot path)
  Store:      everything else plus WithCustomerTx

SERIALIZATION CONTRACT:
  WithCustomerTx(ctx, customerID, fn) runs fn so that no other
  WithCustomerTx for the same customer interleaves with it. Reads made
  through the EntryStore handed to fn see every payment committed before
  fn started. Implementations:
    - memory:   store-wide write lock
    - sqlite:   store-wide write lock + SQL transaction
    - postgres: SQL transaction + SELECT ... FOR UPDATE on the customer row
  A store that cannot serialize returns ErrConcurrentModification; the
  caller retries the whole sequence.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx
*/
package ledger

import "context"

// EntryStore reads and appends the entries of a single customer.
type EntryStore interface {
	// ListCredits returns the customer's credit entries in insertion order.
	ListCredits(ctx context.Context, customerID CustomerID) ([]CreditEntry, error)

	// ListPayments returns the customer's payment entries in insertion order.
	ListPayments(ctx context.Context, customerID CustomerID) ([]PaymentEntry, error)

	// Totals sums the customer's entries.
	Totals(ctx context.Context, customerID CustomerID) (Totals, error)

	// AppendCredit stores a credit entry and returns it with ID and CreatedAt set.
	AppendCredit(ctx context.Context, c CreditEntry) (CreditEntry, error)

	// AppendPayment stores a payment entry and returns it with ID and CreatedAt set.
	// Returns ErrDuplicateIdempotencyKey if the key was used before.
	AppendPayment(ctx context.Context, p PaymentEntry) (PaymentEntry, error)
}

// Store is the full persistence surface used by Service.
type Store interface {
	EntryStore

	CreateOwner(ctx context.Context, o Owner) (Owner, error)
	GetOwner(ctx context.Context, id OwnerID) (Owner, error)

	CreateCustomer(ctx context.Context, c Customer) (Customer, error)
	UpdateCustomer(ctx context.Context, c Customer) (Customer, error)
	// DeleteCustomer removes the customer and all of its entries.
	DeleteCustomer(ctx context.Context, id CustomerID) error
	GetCustomer(ctx context.Context, id CustomerID) (Customer, error)
	ListCustomers(ctx context.Context, owner OwnerID) ([]Customer, error)

	GetCredit(ctx context.Context, id EntryID) (CreditEntry, error)
	GetPayment(ctx context.Context, id EntryID) (PaymentEntry, error)
	DeleteCredit(ctx context.Context, id EntryID) error
	DeletePayment(ctx context.Context, id EntryID) error

	// Owner-wide listings for dashboards and entry lists.
	ListCreditsByOwner(ctx context.Context, owner OwnerID) ([]CreditEntry, error)
	ListPaymentsByOwner(ctx context.Context, owner OwnerID) ([]PaymentEntry, error)

	// WithCustomerTx runs fn serialized against other calls for the same customer.
	// If fn returns an error nothing it wrote is kept.
	WithCustomerTx(ctx context.Context, customerID CustomerID, fn func(EntryStore) error) error

	Close() error
}
