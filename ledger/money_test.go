package ledger_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-ledger/ledger"
)

func TestParseMoney(t *testing.T) {
	m, err := ledger.ParseMoney("12.5")
	require.NoError(t, err)
	assert.Equal(t, "12.50", m.String())

	m, err = ledger.ParseMoney(" 0.10 ")
	require.NoError(t, err)
	assert.Equal(t, "0.10", m.String())

	_, err = ledger.ParseMoney("1.005")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = ledger.ParseMoney("ten")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestMoney_NoFloatDrift(t *testing.T) {
	// 0.1 + 0.2 is the classic float trap
	total := ledger.Sum(money("0.10"), money("0.20"))

	assert.Equal(t, "0.30", total.String())
	assert.True(t, total.Equal(money("0.30")))
}

func TestMoney_JSON(t *testing.T) {
	out, err := json.Marshal(struct {
		Amount ledger.Money `json:"amount"`
	}{money("60")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"60.00"}`, string(out))

	var in struct {
		A ledger.Money `json:"a"`
		B ledger.Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"19.99","b":7.5}`), &in))
	assert.Equal(t, "19.99", in.A.String())
	assert.Equal(t, "7.50", in.B.String())

	err = json.Unmarshal([]byte(`{"a":"0.001"}`), &in)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestDate_JSON(t *testing.T) {
	var in struct {
		On ledger.Date `json:"on"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"on":"2024-02-29"}`), &in))
	assert.True(t, in.On.Equal(ledger.NewDate(2024, time.February, 29)))

	out, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"on":"2024-02-29"}`, string(out))

	err = json.Unmarshal([]byte(`{"on":"29/02/2024"}`), &in)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestDateOf_DropsTimeOfDay(t *testing.T) {
	late := time.Date(2024, time.March, 3, 23, 59, 0, 0, time.UTC)

	assert.True(t, ledger.DateOf(late).Equal(ledger.NewDate(2024, time.March, 3)))
	assert.True(t, ledger.DateOf(time.Time{}).IsZero())
}

func TestParseMoney_UpperBound(t *testing.T) {
	m, err := ledger.ParseMoney("99999999.99")
	require.NoError(t, err)
	assert.True(t, m.Equal(ledger.MaxAmount))

	for _, s := range []string{"100000000.00", "1e20", "1e3000000", "-1e3000000"} {
		_, err := ledger.ParseMoney(s)
		assert.ErrorIs(t, err, ledger.ErrValidation, s)
	}
}

func TestMoney_JSONRejectsHugeExponents(t *testing.T) {
	// GIVEN: short inputs whose exact expansion would be millions of digits
	inputs := []string{`1e3000000`, `"1e3000000"`, `1e20`, `1e-3000000`}

	for _, in := range inputs {
		var m ledger.Money
		start := time.Now()

		// WHEN
		err := json.Unmarshal([]byte(in), &m)

		// THEN: rejected as a validation error without expanding the value
		assert.ErrorIs(t, err, ledger.ErrValidation, in)
		assert.Less(t, time.Since(start), 100*time.Millisecond, in)
	}
}

func TestParseTotal_AllowsSumsAboveMaxAmount(t *testing.T) {
	total, err := ledger.ParseTotal("250000000.50")
	require.NoError(t, err)
	assert.Equal(t, "250000000.50", total.String())

	_, err = ledger.ParseTotal("1.005")
	assert.Error(t, err)
}
