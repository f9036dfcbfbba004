package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-ledger/ledger"
)

func TestValidatePayment_ExactOutstandingIsApproved(t *testing.T) {
	for _, x := range []string{"0.01", "1.00", "50.00", "99999.99"} {
		d, err := ledger.ValidatePayment(money(x), money(x), ledger.Zero)

		require.NoError(t, err)
		assert.True(t, d.Approved, "paying exactly %s should be approved", x)
		assert.Equal(t, x, d.Outstanding.String())
	}
}

func TestValidatePayment_OneCentOverIsRejected(t *testing.T) {
	// GIVEN: 200.00 credited, 150.00 paid -> 50.00 outstanding
	credits, payments := money("200.00"), money("150.00")

	// WHEN: paying 50.00 and 50.01
	ok, err := ledger.ValidatePayment(money("50.00"), credits, payments)
	require.NoError(t, err)
	over, err := ledger.ValidatePayment(money("50.01"), credits, payments)
	require.NoError(t, err)

	// THEN
	assert.True(t, ok.Approved)
	assert.False(t, over.Approved)
	assert.Equal(t, "50.00", over.MaxAllowed.String())
	assert.Equal(t, "50.00", over.Outstanding.String())
}

func TestValidatePayment_NothingOwed(t *testing.T) {
	cases := map[string][2]string{
		"settled":  {"100.00", "100.00"},
		"overpaid": {"100.00", "120.00"},
		"no debt":  {"0.00", "0.00"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			d, err := ledger.ValidatePayment(money("0.01"), money(c[0]), money(c[1]))

			require.NoError(t, err)
			assert.False(t, d.Approved)
			assert.True(t, d.MaxAllowed.Equal(money(c[0]).Sub(money(c[1]))))
		})
	}
}

func TestValidatePayment_RejectsNonPositiveAmount(t *testing.T) {
	for _, x := range []string{"0", "-0.01", "-10.00"} {
		_, err := ledger.ValidatePayment(money(x), money("100.00"), ledger.Zero)

		require.Error(t, err, x)
		assert.ErrorIs(t, err, ledger.ErrValidation)
		assert.False(t, ledger.IsRetryable(err))
	}
}

func TestValidatePayment_RejectsSubCentAmount(t *testing.T) {
	sub := ledger.NewMoney(money("1.00").Decimal().Div(money("3.00").Decimal()))

	_, err := ledger.ValidatePayment(sub, money("100.00"), ledger.Zero)

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestValidatePayment_RejectsAmountAboveMax(t *testing.T) {
	// GIVEN: enough owed that only the amount cap can refuse the payment
	huge := ledger.MoneyFromInt(1_000_000_000)
	over := ledger.MaxAmount.Add(ledger.MoneyFromCents(1))

	// WHEN / THEN
	_, err := ledger.ValidatePayment(over, huge, ledger.Zero)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.False(t, ledger.IsRetryable(err))

	d, err := ledger.ValidatePayment(ledger.MaxAmount, huge, ledger.Zero)
	require.NoError(t, err)
	assert.True(t, d.Approved)

	assert.ErrorIs(t, ledger.ValidateAmount(over), ledger.ErrValidation)
}

func TestDecision_Err(t *testing.T) {
	d, err := ledger.ValidatePayment(money("75.00"), money("60.00"), money("10.00"))
	require.NoError(t, err)

	rejection := d.Err(7, money("75.00"))

	var over *ledger.OverpaymentError
	require.ErrorAs(t, rejection, &over)
	assert.Equal(t, ledger.CustomerID(7), over.CustomerID)
	assert.Equal(t, "50.00", over.MaxAllowed.String())
	assert.ErrorIs(t, rejection, ledger.ErrPaymentExceedsOutstanding)
	assert.True(t, ledger.IsClientError(rejection))
	assert.Contains(t, rejection.Error(), "can pay at most 50.00")

	approved, err := ledger.ValidatePayment(money("1.00"), money("60.00"), ledger.Zero)
	require.NoError(t, err)
	assert.NoError(t, approved.Err(7, money("1.00")))
}
