/*
Package ledger is the credit-ledger core for small shops.

PURPOSE:
  Shop owners give customers goods on account ("credit") and receive money
  against it ("payments"). This package derives everything that follows from
  those two kinds of entry: the customer statement with its running balance,
  the outstanding balance, and the decision whether a new payment may be
  accepted.

KEY CONCEPTS IN THIS FILE (types.go):
  - CreditEntry / PaymentEntry: the only persisted facts
  - LedgerLine / Statement: derived, never stored
  - Totals: aggregate sums used by the payment guard

LEDGER COLUMNS:
  The statement uses accounting columns, which invert the business words:
    credit entry  (customer took goods)   -> DEBIT column, balance goes up
    payment entry (customer paid)         -> CREDIT column, balance goes down

DESIGN PRINCIPLES:
  1. Precision: all amounts are Money (decimal, 2 fractional digits)
  2. Plain records: relationships are IDs resolved by the caller, no object graph
  3. Pure core: BuildStatement and ValidatePayment do no I/O

SEE ALSO:
  - statement.go: Ledger engine (BuildStatement)
  - guard.go: Payment guard (ValidatePayment)
  - service.go: Serialized read-validate-write around the guard
*/
package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OwnerID int64
type CustomerID int64
type EntryID int64

// =============================================================================
// ACCOUNTS - Owners and their customers
// =============================================================================

// Owner is a shop account. Every customer belongs to exactly one owner.
type Owner struct {
	ID        OwnerID
	ShopName  string
	OwnerName string
	Email     string
	Phone     string
	CreatedAt time.Time
}

// Customer is a person the shop extends credit to.
type Customer struct {
	ID        CustomerID
	OwnerID   OwnerID
	Name      string
	Phone     string
	Email     string
	CreatedAt time.Time
}

// =============================================================================
// ENTRIES - Immutable once written; removed only by delete
// =============================================================================

// CreditEntry records goods or services given on account.
// It increases the customer's outstanding balance.
type CreditEntry struct {
	ID          EntryID
	OwnerID     OwnerID
	CustomerID  CustomerID
	Amount      Money
	Description string
	OccurredOn  Date
	CreatedAt   time.Time
}

// PaymentEntry records money received from the customer.
// It decreases the customer's outstanding balance.
type PaymentEntry struct {
	ID             EntryID
	OwnerID        OwnerID
	CustomerID     CustomerID
	Amount         Money
	Method         string
	OccurredOn     Date
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// STATEMENT - Derived view of a customer's history
// =============================================================================

type EntryKind string

const (
	KindCredit  EntryKind = "credit"
	KindPayment EntryKind = "payment"
)

// LedgerLine is one row of a statement. Balance is the running balance
// after this line has been applied.
type LedgerLine struct {
	Date        Date
	Description string
	Debit       Money
	Credit      Money
	Balance     Money
	Kind        EntryKind
	EntryID     EntryID
}

// Statement is the chronological history of one customer.
type Statement struct {
	CustomerID         CustomerID
	CustomerName       string
	Lines              []LedgerLine
	OutstandingBalance Money
}

// =============================================================================
// TOTALS - Aggregate state before a new payment
// =============================================================================

// Totals are the sums of a customer's entries.
type Totals struct {
	Credits  Money
	Payments Money
}

// Outstanding is what the customer still owes. May be negative for
// historical overpayments.
func (t Totals) Outstanding() Money { return t.Credits.Sub(t.Payments) }

// TotalsOf sums entries for one customer.
func TotalsOf(credits []CreditEntry, payments []PaymentEntry) Totals {
	t := Totals{Credits: Zero, Payments: Zero}
	for _, c := range credits {
		t.Credits = t.Credits.Add(c.Amount)
	}
	for _, p := range payments {
		t.Payments = t.Payments.Add(p.Amount)
	}
	return t
}
