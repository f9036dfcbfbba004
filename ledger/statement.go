/*
statement.go - Ledger engine

PURPOSE:
  Turns a customer's credit and payment entries into a chronological
  statement with a running balance. Balance is never stored; it is always
  replayed from the entries.

ORDERING:
  1. Date ascending
  2. Same date: credit entries before payment entries (the debt is booked
     before the payment that settles it)
  3. Same date and kind: input order (stable sort)

EXAMPLE:
  credits:  2024-01-05 100.00
  payments: 2024-01-10  40.00

  2024-01-05  Credit entry       debit 100.00            balance 100.00
  2024-01-10  Payment (cash)                credit 40.00 balance  60.00
  outstanding 60.00
*/
package ledger

import (
	"fmt"
	"sort"
)

const defaultCreditDescription = "Credit entry"

// event is one entry placed on the merged timeline.
type event struct {
	date     Date
	priority int // 0 = credit entry, 1 = payment entry
	line     LedgerLine
}

// BuildStatement merges, orders and folds the entries of one customer.
// The outstanding balance is not clamped: historical overpayments show as
// a negative balance.
func BuildStatement(credits []CreditEntry, payments []PaymentEntry) (Statement, error) {
	events := make([]event, 0, len(credits)+len(payments))

	for i, c := range credits {
		if err := checkEntry(fmt.Sprintf("credits[%d]", i), c.Amount, c.OccurredOn); err != nil {
			return Statement{}, err
		}
		desc := c.Description
		if desc == "" {
			desc = defaultCreditDescription
		}
		events = append(events, event{
			date:     c.OccurredOn,
			priority: 0,
			line: LedgerLine{
				Date:        c.OccurredOn,
				Description: desc,
				Debit:       c.Amount,
				Credit:      Zero,
				Kind:        KindCredit,
				EntryID:     c.ID,
			},
		})
	}

	for i, p := range payments {
		if err := checkEntry(fmt.Sprintf("payments[%d]", i), p.Amount, p.OccurredOn); err != nil {
			return Statement{}, err
		}
		events = append(events, event{
			date:     p.OccurredOn,
			priority: 1,
			line: LedgerLine{
				Date:        p.OccurredOn,
				Description: fmt.Sprintf("Payment (%s)", p.Method),
				Debit:       Zero,
				Credit:      p.Amount,
				Kind:        KindPayment,
				EntryID:     p.ID,
			},
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		if c := events[i].date.Compare(events[j].date); c != 0 {
			return c < 0
		}
		return events[i].priority < events[j].priority
	})

	balance := Zero
	lines := make([]LedgerLine, 0, len(events))
	for _, e := range events {
		balance = balance.Add(e.line.Debit).Sub(e.line.Credit)
		line := e.line
		line.Balance = balance
		lines = append(lines, line)
	}

	return Statement{
		Lines:              lines,
		OutstandingBalance: balance,
	}, nil
}

func checkEntry(field string, amount Money, on Date) error {
	if on.IsZero() {
		return invalid(field, "missing date")
	}
	if !amount.IsPositive() {
		return invalid(field, "amount must be positive, got %s", amount)
	}
	if !amount.HasValidScale() {
		return invalid(field, "amount %s has more than %d decimal places", amount.Decimal(), MoneyScale)
	}
	return nil
}
