/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Default persistence for a single shop server. PostgreSQL (store/postgres)
  is used when several server processes share one database.

KEY TABLES:
  owners:    shop owners, email unique
  customers: customers of an owner
  credits:   goods given on credit
  payments:  money received, idempotency_key unique

  Entries reference their customer with ON DELETE CASCADE, so deleting a
  customer removes its ledger. Amounts are stored as decimal TEXT and
  summed in Go; SQLite's REAL arithmetic would lose cents.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithCustomerTx holds the write lock
  for the whole read-validate-write sequence, so payments for any customer
  are serialized within the process.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  st, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  svc := ledger.NewService(st, logger)

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/credit-ledger/ledger"
)

var _ ledger.Store = (*Store)(nil)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS owners (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shop_name TEXT NOT NULL,
		owner_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_customers_owner
		ON customers(owner_id);

	CREATE TABLE IF NOT EXISTS credits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		customer_id INTEGER NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		description TEXT,
		occurred_on TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credits_customer
		ON credits(customer_id, id);
	CREATE INDEX IF NOT EXISTS idx_credits_owner
		ON credits(owner_id, occurred_on);

	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id INTEGER NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		customer_id INTEGER NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		occurred_on TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_customer
		ON payments(customer_id, id);
	CREATE INDEX IF NOT EXISTS idx_payments_owner
		ON payments(owner_id, occurred_on);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// OWNERS
// =============================================================================

func (s *Store) CreateOwner(ctx context.Context, o ledger.Owner) (ledger.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o.CreatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO owners (shop_name, owner_name, email, phone, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, o.ShopName, o.OwnerName, o.Email, nullString(o.Phone), formatTime(o.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.Owner{}, ledger.ErrEmailTaken
		}
		return ledger.Owner{}, fmt.Errorf("failed to create owner: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Owner{}, err
	}
	o.ID = ledger.OwnerID(id)
	return o, nil
}

func (s *Store) GetOwner(ctx context.Context, id ledger.OwnerID) (ledger.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		o         ledger.Owner
		phone     sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_name, owner_name, email, phone, created_at
		FROM owners WHERE id = ?
	`, id).Scan(&o.ID, &o.ShopName, &o.OwnerName, &o.Email, &phone, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Owner{}, ledger.ErrOwnerNotFound
	}
	if err != nil {
		return ledger.Owner{}, fmt.Errorf("failed to get owner: %w", err)
	}
	o.Phone = phone.String
	o.CreatedAt = parseTime(createdAt)
	return o, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

const customerColumns = `id, owner_id, name, phone, email, created_at`

func (s *Store) CreateCustomer(ctx context.Context, c ledger.Customer) (ledger.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.CreatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (owner_id, name, phone, email, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.OwnerID, c.Name, c.Phone, nullString(c.Email), formatTime(c.CreatedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return ledger.Customer{}, ledger.ErrOwnerNotFound
		}
		return ledger.Customer{}, fmt.Errorf("failed to create customer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Customer{}, err
	}
	c.ID = ledger.CustomerID(id)
	return c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c ledger.Customer) (ledger.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers SET name = ?, phone = ?, email = ? WHERE id = ?
	`, c.Name, c.Phone, nullString(c.Email), c.ID)
	if err != nil {
		return ledger.Customer{}, fmt.Errorf("failed to update customer: %w", err)
	}
	if err := expectOneRow(res, ledger.ErrCustomerNotFound); err != nil {
		return ledger.Customer{}, err
	}
	return getCustomer(ctx, s.db, c.ID)
}

// DeleteCustomer removes the customer; its entries follow via ON DELETE CASCADE.
func (s *Store) DeleteCustomer(ctx context.Context, id ledger.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM customers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return expectOneRow(res, ledger.ErrCustomerNotFound)
}

func (s *Store) GetCustomer(ctx context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCustomer(ctx, s.db, id)
}

func (s *Store) ListCustomers(ctx context.Context, owner ledger.OwnerID) ([]ledger.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE owner_id = ? ORDER BY id", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []ledger.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func getCustomer(ctx context.Context, q querier, id ledger.CustomerID) (ledger.Customer, error) {
	c, err := scanCustomer(q.QueryRowContext(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	return c, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (ledger.Customer, error) {
	var (
		c         ledger.Customer
		email     sql.NullString
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Phone, &email, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan customer: %w", err)
	}
	c.Email = email.String
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// =============================================================================
// ENTRIES (ledger.EntryStore)
// =============================================================================

const (
	creditColumns  = `id, owner_id, customer_id, amount, description, occurred_on, created_at`
	paymentColumns = `id, owner_id, customer_id, amount, method, occurred_on, idempotency_key, created_at`
)

func (s *Store) ListCredits(ctx context.Context, customerID ledger.CustomerID) ([]ledger.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryCredits(ctx, s.db, "WHERE customer_id = ? ORDER BY id", customerID)
}

func (s *Store) ListPayments(ctx context.Context, customerID ledger.CustomerID) ([]ledger.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPayments(ctx, s.db, "WHERE customer_id = ? ORDER BY id", customerID)
}

func (s *Store) Totals(ctx context.Context, customerID ledger.CustomerID) (ledger.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return totals(ctx, s.db, customerID)
}

func (s *Store) AppendCredit(ctx context.Context, c ledger.CreditEntry) (ledger.CreditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendCredit(ctx, s.db, c)
}

func (s *Store) AppendPayment(ctx context.Context, p ledger.PaymentEntry) (ledger.PaymentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendPayment(ctx, s.db, p)
}

func (s *Store) GetCredit(ctx context.Context, id ledger.EntryID) (ledger.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	credits, err := queryCredits(ctx, s.db, "WHERE id = ?", id)
	if err != nil {
		return ledger.CreditEntry{}, err
	}
	if len(credits) == 0 {
		return ledger.CreditEntry{}, ledger.ErrEntryNotFound
	}
	return credits[0], nil
}

func (s *Store) GetPayment(ctx context.Context, id ledger.EntryID) (ledger.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments, err := queryPayments(ctx, s.db, "WHERE id = ?", id)
	if err != nil {
		return ledger.PaymentEntry{}, err
	}
	if len(payments) == 0 {
		return ledger.PaymentEntry{}, ledger.ErrEntryNotFound
	}
	return payments[0], nil
}

func (s *Store) DeleteCredit(ctx context.Context, id ledger.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM credits WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete credit: %w", err)
	}
	return expectOneRow(res, ledger.ErrEntryNotFound)
}

func (s *Store) DeletePayment(ctx context.Context, id ledger.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM payments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	return expectOneRow(res, ledger.ErrEntryNotFound)
}

func (s *Store) ListCreditsByOwner(ctx context.Context, owner ledger.OwnerID) ([]ledger.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryCredits(ctx, s.db, "WHERE owner_id = ? ORDER BY occurred_on DESC, id DESC", owner)
}

func (s *Store) ListPaymentsByOwner(ctx context.Context, owner ledger.OwnerID) ([]ledger.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPayments(ctx, s.db, "WHERE owner_id = ? ORDER BY occurred_on DESC, id DESC", owner)
}

func appendCredit(ctx context.Context, q querier, c ledger.CreditEntry) (ledger.CreditEntry, error) {
	c.CreatedAt = now()
	res, err := q.ExecContext(ctx, `
		INSERT INTO credits (owner_id, customer_id, amount, description, occurred_on, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.OwnerID, c.CustomerID, c.Amount.String(), nullString(c.Description),
		c.OccurredOn.String(), formatTime(c.CreatedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return ledger.CreditEntry{}, ledger.ErrCustomerNotFound
		}
		return ledger.CreditEntry{}, fmt.Errorf("failed to append credit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.CreditEntry{}, err
	}
	c.ID = ledger.EntryID(id)
	return c, nil
}

func appendPayment(ctx context.Context, q querier, p ledger.PaymentEntry) (ledger.PaymentEntry, error) {
	p.CreatedAt = now()
	res, err := q.ExecContext(ctx, `
		INSERT INTO payments (owner_id, customer_id, amount, method, occurred_on, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.OwnerID, p.CustomerID, p.Amount.String(), p.Method, p.OccurredOn.String(),
		nullString(p.IdempotencyKey), formatTime(p.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.PaymentEntry{}, ledger.ErrDuplicateIdempotencyKey
		}
		if isForeignKeyError(err) {
			return ledger.PaymentEntry{}, ledger.ErrCustomerNotFound
		}
		return ledger.PaymentEntry{}, fmt.Errorf("failed to append payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.PaymentEntry{}, err
	}
	p.ID = ledger.EntryID(id)
	return p, nil
}

func totals(ctx context.Context, q querier, customerID ledger.CustomerID) (ledger.Totals, error) {
	credits, err := queryCredits(ctx, q, "WHERE customer_id = ?", customerID)
	if err != nil {
		return ledger.Totals{}, err
	}
	payments, err := queryPayments(ctx, q, "WHERE customer_id = ?", customerID)
	if err != nil {
		return ledger.Totals{}, err
	}
	return ledger.TotalsOf(credits, payments), nil
}

func queryCredits(ctx context.Context, q querier, where string, args ...any) ([]ledger.CreditEntry, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+creditColumns+" FROM credits "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credits: %w", err)
	}
	defer rows.Close()

	var credits []ledger.CreditEntry
	for rows.Next() {
		var (
			c           ledger.CreditEntry
			amount      string
			description sql.NullString
			occurredOn  string
			createdAt   string
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.CustomerID, &amount, &description, &occurredOn, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit: %w", err)
		}
		if c.Amount, err = ledger.ParseMoney(amount); err != nil {
			return nil, fmt.Errorf("credit %d: %w", c.ID, err)
		}
		if c.OccurredOn, err = ledger.ParseDate(occurredOn); err != nil {
			return nil, fmt.Errorf("credit %d: %w", c.ID, err)
		}
		c.Description = description.String
		c.CreatedAt = parseTime(createdAt)
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

func queryPayments(ctx context.Context, q querier, where string, args ...any) ([]ledger.PaymentEntry, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+paymentColumns+" FROM payments "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.PaymentEntry
	for rows.Next() {
		var (
			p              ledger.PaymentEntry
			amount         string
			occurredOn     string
			idempotencyKey sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.CustomerID, &amount, &p.Method, &occurredOn, &idempotencyKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.Amount, err = ledger.ParseMoney(amount); err != nil {
			return nil, fmt.Errorf("payment %d: %w", p.ID, err)
		}
		if p.OccurredOn, err = ledger.ParseDate(occurredOn); err != nil {
			return nil, fmt.Errorf("payment %d: %w", p.ID, err)
		}
		p.IdempotencyKey = idempotencyKey.String
		p.CreatedAt = parseTime(createdAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// TRANSACTIONAL SCOPE
// =============================================================================

// WithCustomerTx runs fn inside a database transaction while holding the
// store's write lock.
func (s *Store) WithCustomerTx(ctx context.Context, customerID ledger.CustomerID, fn func(ledger.EntryStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := getCustomer(ctx, sqlTx, customerID); err != nil {
		return err
	}

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if isBusyError(err) {
			return ledger.ErrConcurrentModification
		}
		return err
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) ListCredits(ctx context.Context, customerID ledger.CustomerID) ([]ledger.CreditEntry, error) {
	return queryCredits(ctx, ts.tx, "WHERE customer_id = ? ORDER BY id", customerID)
}

func (ts *txStore) ListPayments(ctx context.Context, customerID ledger.CustomerID) ([]ledger.PaymentEntry, error) {
	return queryPayments(ctx, ts.tx, "WHERE customer_id = ? ORDER BY id", customerID)
}

func (ts *txStore) Totals(ctx context.Context, customerID ledger.CustomerID) (ledger.Totals, error) {
	return totals(ctx, ts.tx, customerID)
}

func (ts *txStore) AppendCredit(ctx context.Context, c ledger.CreditEntry) (ledger.CreditEntry, error) {
	return appendCredit(ctx, ts.tx, c)
}

func (ts *txStore) AppendPayment(ctx context.Context, p ledger.PaymentEntry) (ledger.PaymentEntry, error) {
	payment, err := appendPayment(ctx, ts.tx, p)
	if err != nil && isBusyError(err) {
		return ledger.PaymentEntry{}, ledger.ErrConcurrentModification
	}
	return payment, err
}

// Helper functions

func now() time.Time { return time.Now().UTC() }

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// isBusyError reports SQLITE_BUSY / SQLITE_LOCKED, raised when another
// process holds the write lock on the same file.
func isBusyError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "database table is locked"))
}
