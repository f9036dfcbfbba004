package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/credit-ledger/ledger"
	"github.com/warp/credit-ledger/store/postgres"
)

// Integration tests; they run only when PG_DSN points at a disposable database.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	st, err := postgres.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPostgres_ConcurrentPaymentsAcrossServices(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	owner, err := st.CreateOwner(ctx, ledger.Owner{
		ShopName: "Integration", OwnerName: "Test",
		Email: fmt.Sprintf("%s@example.com", uuid.NewString()),
	})
	require.NoError(t, err)
	customer, err := st.CreateCustomer(ctx, ledger.Customer{OwnerID: owner.ID, Name: "Karim", Phone: "1"})
	require.NoError(t, err)
	t.Cleanup(func() { st.DeleteCustomer(context.Background(), customer.ID) })

	on := ledger.NewDate(2024, time.January, 5)
	_, err = st.AppendCredit(ctx, ledger.CreditEntry{OwnerID: owner.ID, CustomerID: customer.ID, Amount: ledger.MustParseMoney("50.00"), OccurredOn: on})
	require.NoError(t, err)

	// two services model two server processes: no shared in-process lock
	services := []*ledger.Service{
		ledger.NewService(st, zap.NewNop()),
		ledger.NewService(st, zap.NewNop()),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(services))
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc *ledger.Service) {
			defer wg.Done()
			_, errs[i] = svc.RecordPayment(ctx, ledger.NewPayment{
				OwnerID: owner.ID, CustomerID: customer.ID,
				Amount: ledger.MustParseMoney("50.00"), Method: "cash", OccurredOn: on,
			})
		}(i, svc)
	}
	wg.Wait()

	rejected := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ledger.ErrPaymentExceedsOutstanding)
			rejected++
		}
	}
	assert.Equal(t, 1, rejected)

	totals, err := st.Totals(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", totals.Outstanding().String())
}

func TestPostgres_DuplicateIdempotencyKey(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	owner, err := st.CreateOwner(ctx, ledger.Owner{
		ShopName: "Integration", OwnerName: "Test",
		Email: fmt.Sprintf("%s@example.com", uuid.NewString()),
	})
	require.NoError(t, err)
	customer, err := st.CreateCustomer(ctx, ledger.Customer{OwnerID: owner.ID, Name: "Salma", Phone: "2"})
	require.NoError(t, err)
	t.Cleanup(func() { st.DeleteCustomer(context.Background(), customer.ID) })

	key := uuid.NewString()
	p := ledger.PaymentEntry{
		OwnerID: owner.ID, CustomerID: customer.ID, Amount: ledger.MustParseMoney("1.00"),
		Method: "upi", OccurredOn: ledger.NewDate(2024, time.May, 1), IdempotencyKey: key,
	}
	_, err = st.AppendPayment(ctx, p)
	require.NoError(t, err)
	_, err = st.AppendPayment(ctx, p)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
}
