/*
Package postgres provides a PostgreSQL implementation of ledger.Store on pgx.

PURPOSE:
  Used when more than one server process shares the ledger. The in-process
  customer lock in ledger.Service cannot see other processes, so
  serialization moves into the database.

SERIALIZATION:
  WithCustomerTx opens a transaction and takes a row lock on the customer:

    SELECT id FROM customers WHERE id = $1 FOR UPDATE

  Every payment for that customer queues on the same row, so the totals
  read inside fn cannot change before the insert commits. Serialization
  failures (40001) and deadlocks (40P01) map to
  ledger.ErrConcurrentModification and the service retries.

AMOUNTS:
  NUMERIC(10,2) columns, written from and read back as text so no value
  passes through float64.
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/credit-ledger/ledger"
)

var _ ledger.Store = (*Store)(nil)

// PostgreSQL error codes the store maps to ledger errors.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type Store struct {
	db *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New connects to connString, pings the server and migrates the schema.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{db: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS owners (
		id BIGSERIAL PRIMARY KEY,
		shop_name TEXT NOT NULL,
		owner_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS customers (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		email TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_customers_owner ON customers(owner_id);

	CREATE TABLE IF NOT EXISTS credits (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		customer_id BIGINT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
		amount NUMERIC(10,2) NOT NULL CHECK (amount > 0),
		description TEXT,
		occurred_on DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_credits_customer ON credits(customer_id, id);
	CREATE INDEX IF NOT EXISTS idx_credits_owner ON credits(owner_id, occurred_on);

	CREATE TABLE IF NOT EXISTS payments (
		id BIGSERIAL PRIMARY KEY,
		owner_id BIGINT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		customer_id BIGINT NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
		amount NUMERIC(10,2) NOT NULL CHECK (amount > 0),
		method TEXT NOT NULL,
		occurred_on DATE NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_payments_customer ON payments(customer_id, id);
	CREATE INDEX IF NOT EXISTS idx_payments_owner ON payments(owner_id, occurred_on);
	`)
	return err
}

// =============================================================================
// OWNERS AND CUSTOMERS
// =============================================================================

func (s *Store) CreateOwner(ctx context.Context, o ledger.Owner) (ledger.Owner, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO owners (shop_name, owner_name, email, phone)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id, created_at
	`, o.ShopName, o.OwnerName, o.Email, o.Phone).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return ledger.Owner{}, ledger.ErrEmailTaken
		}
		return ledger.Owner{}, fmt.Errorf("failed to create owner: %w", err)
	}
	return o, nil
}

func (s *Store) GetOwner(ctx context.Context, id ledger.OwnerID) (ledger.Owner, error) {
	var o ledger.Owner
	err := s.db.QueryRow(ctx, `
		SELECT id, shop_name, owner_name, email, COALESCE(phone, ''), created_at
		FROM owners WHERE id = $1
	`, id).Scan(&o.ID, &o.ShopName, &o.OwnerName, &o.Email, &o.Phone, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Owner{}, ledger.ErrOwnerNotFound
	}
	if err != nil {
		return ledger.Owner{}, fmt.Errorf("failed to get owner: %w", err)
	}
	return o, nil
}

const customerColumns = `id, owner_id, name, phone, COALESCE(email, ''), created_at`

func (s *Store) CreateCustomer(ctx context.Context, c ledger.Customer) (ledger.Customer, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO customers (owner_id, name, phone, email)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id, created_at
	`, c.OwnerID, c.Name, c.Phone, c.Email).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if hasCode(err, codeForeignKeyViolation) {
			return ledger.Customer{}, ledger.ErrOwnerNotFound
		}
		return ledger.Customer{}, fmt.Errorf("failed to create customer: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, c ledger.Customer) (ledger.Customer, error) {
	updated, err := scanCustomer(s.db.QueryRow(ctx, `
		UPDATE customers SET name = $2, phone = $3, email = NULLIF($4, '')
		WHERE id = $1
		RETURNING `+customerColumns, c.ID, c.Name, c.Phone, c.Email))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	return updated, err
}

func (s *Store) DeleteCustomer(ctx context.Context, id ledger.CustomerID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM customers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrCustomerNotFound
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id ledger.CustomerID) (ledger.Customer, error) {
	c, err := scanCustomer(s.db.QueryRow(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Customer{}, ledger.ErrCustomerNotFound
	}
	return c, err
}

func (s *Store) ListCustomers(ctx context.Context, owner ledger.OwnerID) ([]ledger.Customer, error) {
	rows, err := s.db.Query(ctx, "SELECT "+customerColumns+" FROM customers WHERE owner_id = $1 ORDER BY id", owner)
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

func scanCustomer(row pgx.Row) (ledger.Customer, error) {
	var c ledger.Customer
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Phone, &c.Email, &c.CreatedAt)
	return c, err
}

// =============================================================================
// ENTRIES
// =============================================================================

const (
	creditColumns  = `id, owner_id, customer_id, amount::text, COALESCE(description, ''), occurred_on, created_at`
	paymentColumns = `id, owner_id, customer_id, amount::text, method, occurred_on, COALESCE(idempotency_key, ''), created_at`
)

func (s *Store) ListCredits(ctx context.Context, customerID ledger.CustomerID) ([]ledger.CreditEntry, error) {
	return queryCredits(ctx, s.db, "WHERE customer_id = $1 ORDER BY id", customerID)
}

func (s *Store) ListPayments(ctx context.Context, customerID ledger.CustomerID) ([]ledger.PaymentEntry, error) {
	return queryPayments(ctx, s.db, "WHERE customer_id = $1 ORDER BY id", customerID)
}

func (s *Store) Totals(ctx context.Context, customerID ledger.CustomerID) (ledger.Totals, error) {
	return totals(ctx, s.db, customerID)
}

func (s *Store) AppendCredit(ctx context.Context, c ledger.CreditEntry) (ledger.CreditEntry, error) {
	return appendCredit(ctx, s.db, c)
}

func (s *Store) AppendPayment(ctx context.Context, p ledger.PaymentEntry) (ledger.PaymentEntry, error) {
	return appendPayment(ctx, s.db, p)
}

func (s *Store) GetCredit(ctx context.Context, id ledger.EntryID) (ledger.CreditEntry, error) {
	credits, err := queryCredits(ctx, s.db, "WHERE id = $1", id)
	if err != nil {
		return ledger.CreditEntry{}, err
	}
	if len(credits) == 0 {
		return ledger.CreditEntry{}, ledger.ErrEntryNotFound
	}
	return credits[0], nil
}

func (s *Store) GetPayment(ctx context.Context, id ledger.EntryID) (ledger.PaymentEntry, error) {
	payments, err := queryPayments(ctx, s.db, "WHERE id = $1", id)
	if err != nil {
		return ledger.PaymentEntry{}, err
	}
	if len(payments) == 0 {
		return ledger.PaymentEntry{}, ledger.ErrEntryNotFound
	}
	return payments[0], nil
}

func (s *Store) DeleteCredit(ctx context.Context, id ledger.EntryID) error {
	return s.deleteEntry(ctx, "credits", id)
}

func (s *Store) DeletePayment(ctx context.Context, id ledger.EntryID) error {
	return s.deleteEntry(ctx, "payments", id)
}

func (s *Store) ListCreditsByOwner(ctx context.Context, owner ledger.OwnerID) ([]ledger.CreditEntry, error) {
	return queryCredits(ctx, s.db, "WHERE owner_id = $1 ORDER BY occurred_on DESC, id DESC", owner)
}

func (s *Store) ListPaymentsByOwner(ctx context.Context, owner ledger.OwnerID) ([]ledger.PaymentEntry, error) {
	return queryPayments(ctx, s.db, "WHERE owner_id = $1 ORDER BY occurred_on DESC, id DESC", owner)
}

// deleteEntry locks the owning customer row before deleting, so a delete
// cannot land between the reads of a WithCustomerTx scope. table is
// "credits" or "payments".
func (s *Store) deleteEntry(ctx context.Context, table string, id ledger.EntryID) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var customerID int64
	err = tx.QueryRow(ctx, "SELECT customer_id FROM "+table+" WHERE id = $1", id).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrEntryNotFound
		}
		return mapError("find entry", err)
	}
	if _, err := tx.Exec(ctx, "SELECT id FROM customers WHERE id = $1 FOR UPDATE", customerID); err != nil {
		return mapError("lock customer", err)
	}

	tag, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return mapError("delete entry", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrEntryNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError("tx commit", err)
	}
	return nil
}

func appendCredit(ctx context.Context, q querier, c ledger.CreditEntry) (ledger.CreditEntry, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO credits (owner_id, customer_id, amount, description, occurred_on)
		VALUES ($1, $2, $3::numeric, NULLIF($4, ''), $5)
		RETURNING id, created_at
	`, c.OwnerID, c.CustomerID, c.Amount.String(), c.Description, c.OccurredOn.Time()).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return ledger.CreditEntry{}, mapError("append credit", err)
	}
	return c, nil
}

func appendPayment(ctx context.Context, q querier, p ledger.PaymentEntry) (ledger.PaymentEntry, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO payments (owner_id, customer_id, amount, method, occurred_on, idempotency_key)
		VALUES ($1, $2, $3::numeric, $4, $5, NULLIF($6, ''))
		RETURNING id, created_at
	`, p.OwnerID, p.CustomerID, p.Amount.String(), p.Method, p.OccurredOn.Time(), p.IdempotencyKey).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return ledger.PaymentEntry{}, ledger.ErrDuplicateIdempotencyKey
		}
		return ledger.PaymentEntry{}, mapError("append payment", err)
	}
	return p, nil
}

func totals(ctx context.Context, q querier, customerID ledger.CustomerID) (ledger.Totals, error) {
	var credits, payments string
	err := q.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(SUM(amount), 0)::text FROM credits WHERE customer_id = $1),
			(SELECT COALESCE(SUM(amount), 0)::text FROM payments WHERE customer_id = $1)
	`, customerID).Scan(&credits, &payments)
	if err != nil {
		return ledger.Totals{}, mapError("sum entries", err)
	}

	var t ledger.Totals
	if t.Credits, err = ledger.ParseTotal(credits); err != nil {
		return ledger.Totals{}, err
	}
	if t.Payments, err = ledger.ParseTotal(payments); err != nil {
		return ledger.Totals{}, err
	}
	return t, nil
}

func queryCredits(ctx context.Context, q querier, where string, args ...any) ([]ledger.CreditEntry, error) {
	rows, err := q.Query(ctx, "SELECT "+creditColumns+" FROM credits "+where, args...)
	if err != nil {
		return nil, mapError("query credits", err)
	}
	defer rows.Close()

	var credits []ledger.CreditEntry
	for rows.Next() {
		var (
			c          ledger.CreditEntry
			amount     string
			occurredOn time.Time
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.CustomerID, &amount, &c.Description, &occurredOn, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit: %w", err)
		}
		if c.Amount, err = ledger.ParseMoney(amount); err != nil {
			return nil, fmt.Errorf("credit %d: %w", c.ID, err)
		}
		c.OccurredOn = ledger.DateOf(occurredOn)
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

func queryPayments(ctx context.Context, q querier, where string, args ...any) ([]ledger.PaymentEntry, error) {
	rows, err := q.Query(ctx, "SELECT "+paymentColumns+" FROM payments "+where, args...)
	if err != nil {
		return nil, mapError("query payments", err)
	}
	defer rows.Close()

	var payments []ledger.PaymentEntry
	for rows.Next() {
		var (
			p          ledger.PaymentEntry
			amount     string
			occurredOn time.Time
		)
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.CustomerID, &amount, &p.Method, &occurredOn, &p.IdempotencyKey, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.Amount, err = ledger.ParseMoney(amount); err != nil {
			return nil, fmt.Errorf("payment %d: %w", p.ID, err)
		}
		p.OccurredOn = ledger.DateOf(occurredOn)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// TRANSACTIONAL SCOPE
// =============================================================================

// WithCustomerTx locks the customer row for the duration of fn.
func (s *Store) WithCustomerTx(ctx context.Context, customerID ledger.CustomerID, fn func(ledger.EntryStore) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, "SELECT id FROM customers WHERE id = $1 FOR UPDATE", customerID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrCustomerNotFound
		}
		return mapError("lock customer", err)
	}

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError("tx commit", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) ListCredits(ctx context.Context, customerID ledger.CustomerID) ([]ledger.CreditEntry, error) {
	return queryCredits(ctx, ts.tx, "WHERE customer_id = $1 ORDER BY id", customerID)
}

func (ts *txStore) ListPayments(ctx context.Context, customerID ledger.CustomerID) ([]ledger.PaymentEntry, error) {
	return queryPayments(ctx, ts.tx, "WHERE customer_id = $1 ORDER BY id", customerID)
}

func (ts *txStore) Totals(ctx context.Context, customerID ledger.CustomerID) (ledger.Totals, error) {
	return totals(ctx, ts.tx, customerID)
}

func (ts *txStore) AppendCredit(ctx context.Context, c ledger.CreditEntry) (ledger.CreditEntry, error) {
	return appendCredit(ctx, ts.tx, c)
}

func (ts *txStore) AppendPayment(ctx context.Context, p ledger.PaymentEntry) (ledger.PaymentEntry, error) {
	return appendPayment(ctx, ts.tx, p)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// mapError turns retryable and constraint failures into ledger errors.
func mapError(op string, err error) error {
	switch {
	case hasCode(err, codeSerializationFailure), hasCode(err, codeDeadlockDetected):
		return fmt.Errorf("%s: %w", op, ledger.ErrConcurrentModification)
	case hasCode(err, codeForeignKeyViolation):
		return ledger.ErrCustomerNotFound
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}
