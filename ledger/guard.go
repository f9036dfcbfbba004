/*
guard.go - Payment guard

PURPOSE:
  Decides whether a proposed payment is admissible: a payment may never
  push the customer's outstanding balance below zero.

INPUTS:
  Totals are the state BEFORE the proposed payment. The caller must load
  them and commit the payment inside one serialized scope (see service.go),
  otherwise two concurrent payments can both pass against the same snapshot.

DECISION:
  outstanding = credits - payments
  proposed <= outstanding  -> approved (boundary inclusive)
  proposed >  outstanding  -> rejected, MaxAllowed = outstanding

  A rejection is an ordinary outcome, not an error. Only a non-positive,
  oversized or over-precise proposed amount is an error (ValidationError).
*/
package ledger

// Decision is the outcome of ValidatePayment.
type Decision struct {
	Approved    bool
	Outstanding Money
	// MaxAllowed is set on rejection: the most the customer could pay.
	MaxAllowed Money
}

// Err converts a rejection into an *OverpaymentError; nil when approved.
func (d Decision) Err(customerID CustomerID, proposed Money) error {
	if d.Approved {
		return nil
	}
	return &OverpaymentError{CustomerID: customerID, Proposed: proposed, MaxAllowed: d.MaxAllowed}
}

// ValidatePayment checks a proposed payment against pre-payment totals.
func ValidatePayment(proposed, totalCredits, totalPayments Money) (Decision, error) {
	if err := ValidateAmount(proposed); err != nil {
		return Decision{}, err
	}

	outstanding := totalCredits.Sub(totalPayments)
	if proposed.LessOrEqual(outstanding) {
		return Decision{Approved: true, Outstanding: outstanding}, nil
	}
	return Decision{Approved: false, Outstanding: outstanding, MaxAllowed: outstanding}, nil
}

// ValidateAmount rejects non-positive amounts, amounts above MaxAmount and
// amounts finer than cents.
// Used for both credit and payment amounts.
func ValidateAmount(amount Money) error {
	if !amount.IsPositive() {
		return invalid("amount", "amount must be positive, got %s", amount)
	}
	if amount.ExceedsMax() {
		return invalid("amount", "amount exceeds the maximum of %s", MaxAmount)
	}
	if !amount.HasValidScale() {
		return invalid("amount", "amount %s has more than %d decimal places", amount.Decimal(), MoneyScale)
	}
	return nil
}
