/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Payment guard responses (400 with max_allowed, 409 retryable)
- Owner scoping (user_id required, 404 vs 403)
- Ledger in JSON, PDF and XLSX
- Dashboard stats and charts
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/warp/credit-ledger/api"
	"github.com/warp/credit-ledger/ledger"
	"github.com/warp/credit-ledger/ledger/store"
	"github.com/warp/credit-ledger/observability"
)

// =============================================================================
// FIXTURES
// =============================================================================

type testServer struct {
	router   http.Handler
	owner    int64
	customer int64
}

func newTestServer(t *testing.T, st ledger.Store) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc := ledger.NewService(st, zap.NewNop(), ledger.WithMetrics(metrics))
	router := api.NewRouter(api.NewHandler(svc, zap.NewNop()), api.RouterOptions{
		CORSOrigins: []string{"http://localhost:5173"},
		Metrics:     metrics,
		Gatherer:    reg,
	})
	ts := &testServer{router: router}

	var owner api.OwnerDTO
	ts.do(t, http.MethodPost, "/api/owners", api.CreateOwnerRequest{
		ShopName: "Rahim Store", OwnerName: "Rahim", Email: "rahim@example.com",
	}, http.StatusCreated, &owner)
	ts.owner = owner.UserID

	var customer api.CustomerDTO
	ts.do(t, http.MethodPost, "/api/customers", map[string]any{
		"user_id": ts.owner, "name": "Karim", "phone": "01700000000",
	}, http.StatusCreated, &customer)
	ts.customer = customer.CustomerID
	return ts
}

func (ts *testServer) request(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) do(t *testing.T, method, path string, body any, want int, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := ts.request(method, path, body, nil)
	require.Equal(t, want, rec.Code, rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func (ts *testServer) credit(t *testing.T, amount, date string) {
	t.Helper()
	ts.do(t, http.MethodPost, "/api/credits", map[string]any{
		"user_id": ts.owner, "customer_id": ts.customer, "amount": amount, "description": "rice", "date": date,
	}, http.StatusCreated, nil)
}

func paymentBody(owner, customer int64, amount, date string) map[string]any {
	return map[string]any{
		"user_id": owner, "customer_id": customer, "amount": amount, "payment_method": "cash", "date": date,
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestCreatePayment_Approved(t *testing.T) {
	// GIVEN: Karim owes 100.00
	ts := newTestServer(t, store.NewMemory())
	ts.credit(t, "100.00", "2024-01-10")

	// WHEN: He pays 60.00
	var p api.PaymentDTO
	ts.do(t, http.MethodPost, "/api/payments",
		paymentBody(ts.owner, ts.customer, "60.00", "2024-01-12"), http.StatusCreated, &p)

	// THEN: The payment is returned with the customer's name
	assert.Equal(t, "60.00", p.Amount.String())
	assert.Equal(t, "Karim", p.CustomerName)
	assert.Equal(t, "cash", p.PaymentMethod)
}

func TestCreatePayment_ExceedsOutstanding(t *testing.T) {
	// GIVEN: Karim owes 50.00
	ts := newTestServer(t, store.NewMemory())
	ts.credit(t, "50.00", "2024-01-10")

	// WHEN: He tries to pay 50.01
	rec := ts.request(http.MethodPost, "/api/payments",
		paymentBody(ts.owner, ts.customer, "50.01", "2024-01-12"), nil)

	// THEN: 400 with the maximum allowed amount
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "payment_exceeds_outstanding", resp["code"])
	assert.Equal(t, "50.00", resp["max_allowed"])
}

func TestCreatePayment_InvalidAmount(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	ts.credit(t, "50.00", "2024-01-10")

	for _, amount := range []string{"0", "-5.00", "1.005", "100000000.00", "1e3000000"} {
		rec := ts.request(http.MethodPost, "/api/payments",
			paymentBody(ts.owner, ts.customer, amount, "2024-01-12"), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, amount)
		assert.Contains(t, rec.Body.String(), "validation_error", amount)
	}
}

func TestCreatePayment_ConcurrentNeverOverdraws(t *testing.T) {
	// GIVEN: Karim owes 100.00
	ts := newTestServer(t, store.NewMemory())
	ts.credit(t, "100.00", "2024-01-10")

	// WHEN: Two 60.00 payments arrive at once
	codes := make([]int, 2)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := ts.request(http.MethodPost, "/api/payments",
				paymentBody(ts.owner, ts.customer, "60.00", "2024-01-12"), nil)
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	// THEN: Exactly one is accepted
	assert.ElementsMatch(t, []int{http.StatusCreated, http.StatusBadRequest}, codes)

	var ledgerResp api.LedgerResponse
	ts.do(t, http.MethodGet, fmt.Sprintf("/api/ledger/%d?user_id=%d", ts.customer, ts.owner), nil, http.StatusOK, &ledgerResp)
	assert.Equal(t, "40.00", ledgerResp.OutstandingBalance.String())
}

// conflictingStore reports a serialization conflict on every transaction
// once conflicting is set.
type conflictingStore struct {
	*store.Memory
	conflicting bool
}

func (c *conflictingStore) WithCustomerTx(ctx context.Context, id ledger.CustomerID, fn func(ledger.EntryStore) error) error {
	if c.conflicting {
		return ledger.ErrConcurrentModification
	}
	return c.Memory.WithCustomerTx(ctx, id, fn)
}

func TestCreatePayment_ConflictIsRetryable(t *testing.T) {
	// GIVEN: A store that stops letting transactions through after the credit
	st := &conflictingStore{Memory: store.NewMemory()}
	ts := newTestServer(t, st)
	ts.credit(t, "100.00", "2024-01-10")
	st.conflicting = true

	// WHEN: A payment is posted
	rec := ts.request(http.MethodPost, "/api/payments",
		paymentBody(ts.owner, ts.customer, "10.00", "2024-01-12"), nil)

	// THEN: 409 marked retryable
	require.Equal(t, http.StatusConflict, rec.Code)
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Retryable)
	assert.Equal(t, "concurrent_modification", resp.Code)
}

func TestCreatePayment_IdempotencyHeader(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	ts.credit(t, "100.00", "2024-01-10")
	header := http.Header{"Idempotency-Key": []string{"pay-1"}}

	first := ts.request(http.MethodPost, "/api/payments",
		paymentBody(ts.owner, ts.customer, "10.00", "2024-01-12"), header)
	require.Equal(t, http.StatusCreated, first.Code)

	second := ts.request(http.MethodPost, "/api/payments",
		paymentBody(ts.owner, ts.customer, "10.00", "2024-01-12"), header)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "duplicate_idempotency_key")
}

// =============================================================================
// OWNER SCOPING
// =============================================================================

func TestOwnerScoping(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	ts.credit(t, "20.00", "2024-01-10")

	var other api.OwnerDTO
	ts.do(t, http.MethodPost, "/api/owners", api.CreateOwnerRequest{
		ShopName: "Other Shop", OwnerName: "Salma", Email: "salma@example.com",
	}, http.StatusCreated, &other)

	t.Run("user_id is required", func(t *testing.T) {
		rec := ts.request(http.MethodGet, "/api/customers", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("foreign ledger is not found", func(t *testing.T) {
		rec := ts.request(http.MethodGet, fmt.Sprintf("/api/ledger/%d?user_id=%d", ts.customer, other.UserID), nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "Customer not found or not authorized")
	})

	t.Run("foreign payment is not found", func(t *testing.T) {
		rec := ts.request(http.MethodPost, "/api/payments",
			paymentBody(other.UserID, ts.customer, "5.00", "2024-01-12"), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("foreign delete is forbidden", func(t *testing.T) {
		rec := ts.request(http.MethodDelete, fmt.Sprintf("/api/customers/%d?user_id=%d", ts.customer, other.UserID), nil, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing customer is not found", func(t *testing.T) {
		rec := ts.request(http.MethodDelete, fmt.Sprintf("/api/customers/999?user_id=%d", ts.owner), nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("other owner sees no customers", func(t *testing.T) {
		var customers []api.CustomerDTO
		ts.do(t, http.MethodGet, fmt.Sprintf("/api/customers?user_id=%d", other.UserID), nil, http.StatusOK, &customers)
		assert.Empty(t, customers)
	})
}

func TestDeleteCustomer(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	ts.credit(t, "20.00", "2024-01-10")

	var msg api.MessageResponse
	ts.do(t, http.MethodDelete, fmt.Sprintf("/api/customers/%d?user_id=%d", ts.customer, ts.owner), nil, http.StatusOK, &msg)
	assert.Equal(t, "Customer deleted successfully", msg.Message)

	var credits []api.CreditDTO
	ts.do(t, http.MethodGet, fmt.Sprintf("/api/credits?user_id=%d", ts.owner), nil, http.StatusOK, &credits)
	assert.Empty(t, credits)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestGetLedger_JSON(t *testing.T) {
	// GIVEN: A credit and a payment on the same day, then a back-dated credit
	ts := newTestServer(t, store.NewMemory())
	ts.credit(t, "100.00", "2024-01-10")
	ts.do(t, http.MethodPost, "/api/payments",
		paymentBody(ts.owner, ts.customer, "30.00", "2024-01-10"), http.StatusCreated, nil)
	ts.credit(t, "20.00", "2024-01-05")

	// WHEN: The ledger is fetched
	var resp api.LedgerResponse
	ts.do(t, http.MethodGet, fmt.Sprintf("/api/ledger/%d?user_id=%d", ts.customer, ts.owner), nil, http.StatusOK, &resp)

	// THEN: Lines are in date order, credits before payments, with running balances
	assert.Equal(t, "Karim", resp.CustomerName)
	require.Len(t, resp.Transactions, 3)
	assert.Equal(t, "2024-01-05", resp.Transactions[0].Date.String())
	assert.Equal(t, "20.00", resp.Transactions[0].Balance.String())
	assert.Equal(t, "credit", resp.Transactions[1].Type)
	assert.Equal(t, "120.00", resp.Transactions[1].Balance.String())
	assert.Equal(t, "payment", resp.Transactions[2].Type)
	assert.Equal(t, "90.00", resp.Transactions[2].Balance.String())
	assert.Equal(t, "90.00", resp.OutstandingBalance.String())
}

func TestGetLedger_Exports(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	ts.credit(t, "100.00", "2024-01-10")
	base := fmt.Sprintf("/api/ledger/%d?user_id=%d", ts.customer, ts.owner)

	t.Run("pdf", func(t *testing.T) {
		rec := ts.request(http.MethodGet, base+"&format=pdf", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
	})

	t.Run("xlsx", func(t *testing.T) {
		rec := ts.request(http.MethodGet, base+"&format=xlsx", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		defer f.Close()
		v, err := f.GetCellValue("summary", "B4")
		require.NoError(t, err)
		assert.Equal(t, "100.00", v)
		v, err = f.GetCellValue("ledger", "E2")
		require.NoError(t, err)
		assert.Equal(t, "100.00", v)
	})

	t.Run("unknown format", func(t *testing.T) {
		rec := ts.request(http.MethodGet, base+"&format=csv", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// =============================================================================
// DASHBOARD
// =============================================================================

func TestDashboard(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())
	ts.credit(t, "100.00", "2024-02-10")
	ts.do(t, http.MethodPost, "/api/payments",
		paymentBody(ts.owner, ts.customer, "40.00", "2024-03-01"), http.StatusCreated, nil)

	var stats api.DashboardStatsDTO
	ts.do(t, http.MethodGet, fmt.Sprintf("/api/dashboard/stats?user_id=%d", ts.owner), nil, http.StatusOK, &stats)
	assert.Equal(t, "100.00", stats.TotalCredits.String())
	assert.Equal(t, "40.00", stats.TotalPayments.String())
	assert.Equal(t, "60.00", stats.Outstanding.String())
	assert.Equal(t, 1, stats.ActiveCustomers)

	var charts api.DashboardChartsResponse
	ts.do(t, http.MethodGet, fmt.Sprintf("/api/dashboard/charts?user_id=%d&year=2024", ts.owner), nil, http.StatusOK, &charts)
	require.Len(t, charts.MonthlyData, 12)
	assert.Equal(t, "Feb", charts.MonthlyData[1].Month)
	assert.Equal(t, "100.00", charts.MonthlyData[1].Credits.String())
	assert.Equal(t, "40.00", charts.MonthlyData[2].Payments.String())
	require.Len(t, charts.TopCustomers, 1)
	assert.Equal(t, "Karim", charts.TopCustomers[0].Name)

	rec := ts.request(http.MethodGet, fmt.Sprintf("/api/dashboard/charts?user_id=%d&year=abc", ts.owner), nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, store.NewMemory())

	rec := ts.request(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_http_requests_total")
}
