/*
handlers.go - HTTP API handlers for the credit ledger

PURPOSE:
  Exposes the ledger service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to ledger.Service.

ENDPOINTS:
  Owners:
    POST   /api/owners                  Register a shop owner
    GET    /api/owners/{id}             Get owner

  Customers:
    GET    /api/customers?user_id       List customers
    POST   /api/customers               Create customer
    PUT    /api/customers/{id}?user_id  Update customer
    DELETE /api/customers/{id}?user_id  Delete customer and its entries

  Entries:
    GET    /api/credits?user_id         List credits
    POST   /api/credits                 Record credit
    DELETE /api/credits/{id}?user_id    Delete credit
    GET    /api/payments?user_id        List payments
    POST   /api/payments                Record payment (guarded)
    DELETE /api/payments/{id}?user_id   Delete payment

  Reports:
    GET    /api/ledger/{customer_id}?user_id[&format=pdf|xlsx]
    GET    /api/dashboard/stats?user_id
    GET    /api/dashboard/charts?user_id[&year]

OWNER SCOPING:
  Every call names its owner with user_id (query parameter, or body field on
  POST). There is no authentication; the service checks that referenced
  records belong to that owner.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, payment exceeds outstanding (with max_allowed)
  - 403: Record belongs to another owner
  - 404: Resource not found
  - 409: Duplicate idempotency key, or a concurrent payment won (retryable)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - export.go: PDF / XLSX statements
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ledger.Service
	logger  *zap.Logger
}

// NewHandler creates a new handler around the given service.
func NewHandler(svc *ledger.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: svc, logger: logger}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// OWNER HANDLERS
// =============================================================================

// CreateOwner registers a shop owner.
// POST /api/owners
func (h *Handler) CreateOwner(w http.ResponseWriter, r *http.Request) {
	var req CreateOwnerRequest
	if !decode(w, r, &req) {
		return
	}

	owner, err := h.Service.RegisterOwner(r.Context(), ledger.Owner{
		ShopName:  req.ShopName,
		OwnerName: req.OwnerName,
		Email:     req.Email,
		Phone:     req.Phone,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to register owner", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOwnerDTO(owner))
}

// GetOwner returns a single owner.
// GET /api/owners/{id}
func (h *Handler) GetOwner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	owner, err := h.Service.GetOwner(r.Context(), ledger.OwnerID(id))
	if err != nil {
		h.writeLedgerError(w, "Failed to get owner", err)
		return
	}
	writeJSON(w, http.StatusOK, toOwnerDTO(owner))
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns the owner's customers.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	customers, err := h.Service.ListCustomers(r.Context(), owner)
	if err != nil {
		h.writeLedgerError(w, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCustomer creates a customer for the owner named in the body.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !decode(w, r, &req) {
		return
	}
	customer, err := h.Service.CreateCustomer(r.Context(), ledger.Customer{
		OwnerID: ledger.OwnerID(req.UserID),
		Name:    req.Name,
		Phone:   req.Phone,
		Email:   req.Email,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(customer))
}

// UpdateCustomer replaces name, phone and email.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateCustomerRequest
	if !decode(w, r, &req) {
		return
	}

	customer, err := h.Service.UpdateCustomer(r.Context(), owner, ledger.Customer{
		ID:    ledger.CustomerID(id),
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to update customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(customer))
}

// DeleteCustomer removes a customer together with its ledger.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Service.DeleteCustomer(r.Context(), owner, ledger.CustomerID(id)); err != nil {
		h.writeLedgerError(w, "Failed to delete customer", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Customer deleted successfully"})
}

// =============================================================================
// CREDIT HANDLERS
// =============================================================================

func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	credits, err := h.Service.ListCredits(r.Context(), owner)
	if err != nil {
		h.writeLedgerError(w, "Failed to list credits", err)
		return
	}

	dtos := make([]CreditDTO, len(credits))
	for i, c := range credits {
		dtos[i] = toCreditDTO(c.CreditEntry, c.CustomerName)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCredit(w http.ResponseWriter, r *http.Request) {
	var req CreateCreditRequest
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	credit, err := h.Service.RecordCredit(ctx, ledger.NewCredit{
		OwnerID:     ledger.OwnerID(req.UserID),
		CustomerID:  ledger.CustomerID(req.CustomerID),
		Amount:      req.Amount,
		Description: req.Description,
		OccurredOn:  req.Date,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to record credit", err)
		return
	}

	name := h.customerName(r, credit.OwnerID, credit.CustomerID)
	writeJSON(w, http.StatusCreated, toCreditDTO(credit, name))
}

func (h *Handler) DeleteCredit(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Service.DeleteCredit(r.Context(), owner, ledger.EntryID(id)); err != nil {
		h.writeLedgerError(w, "Failed to delete credit", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Credit deleted successfully"})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	payments, err := h.Service.ListPayments(r.Context(), owner)
	if err != nil {
		h.writeLedgerError(w, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p.PaymentEntry, p.CustomerName)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePayment records a payment if it does not exceed the customer's
// outstanding balance.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	payment, err := h.Service.RecordPayment(r.Context(), ledger.NewPayment{
		OwnerID:        ledger.OwnerID(req.UserID),
		CustomerID:     ledger.CustomerID(req.CustomerID),
		Amount:         req.Amount,
		Method:         req.PaymentMethod,
		OccurredOn:     req.Date,
		IdempotencyKey: key,
	})
	if err != nil {
		h.writeLedgerError(w, "Failed to record payment", err)
		return
	}

	name := h.customerName(r, payment.OwnerID, payment.CustomerID)
	writeJSON(w, http.StatusCreated, toPaymentDTO(payment, name))
}

func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Service.DeletePayment(r.Context(), owner, ledger.EntryID(id)); err != nil {
		h.writeLedgerError(w, "Failed to delete payment", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Payment deleted successfully"})
}

// =============================================================================
// LEDGER AND DASHBOARD HANDLERS
// =============================================================================

// GetLedger returns the customer's statement as JSON, PDF or XLSX.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "customer_id")
	if !ok {
		return
	}

	stmt, err := h.Service.Statement(r.Context(), owner, ledger.CustomerID(id))
	if err != nil {
		h.writeLedgerError(w, "Failed to build ledger", err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, toLedgerResponse(stmt))
	case "pdf":
		data, err := BuildStatementPDF(stmt)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to render PDF", err)
			return
		}
		writeFile(w, "application/pdf", fmt.Sprintf("ledger-%d.pdf", id), data)
	case "xlsx":
		data, err := BuildStatementXLSX(stmt)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to render XLSX", err)
			return
		}
		writeFile(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			fmt.Sprintf("ledger-%d.xlsx", id), data)
	default:
		writeError(w, http.StatusBadRequest, "Unsupported format (use json, pdf or xlsx)", nil)
	}
}

func (h *Handler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	stats, err := h.Service.DashboardStats(r.Context(), owner)
	if err != nil {
		h.writeLedgerError(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, DashboardStatsDTO{
		TotalCredits:    stats.TotalCredits,
		TotalPayments:   stats.TotalPayments,
		Outstanding:     stats.Outstanding,
		ActiveCustomers: stats.ActiveCustomers,
	})
}

// GetDashboardCharts returns monthly totals and the top debtors. The year
// defaults to the current one.
func (h *Handler) GetDashboardCharts(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	year := 0
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1 {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = y
	}

	charts, err := h.Service.DashboardCharts(r.Context(), owner, year)
	if err != nil {
		h.writeLedgerError(w, "Failed to compute charts", err)
		return
	}
	writeJSON(w, http.StatusOK, toChartsResponse(charts))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) customerName(r *http.Request, owner ledger.OwnerID, id ledger.CustomerID) string {
	c, err := h.Service.GetCustomer(r.Context(), owner, id)
	if err != nil {
		return "Unknown"
	}
	return c.Name
}

// writeLedgerError maps ledger errors to HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, message string, err error) {
	var (
		over *ledger.OverpaymentError
		verr *ledger.ValidationError
	)
	switch {
	case errors.As(err, &over):
		maxAllowed := over.MaxAllowed
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:      over.Error(),
			Code:       "payment_exceeds_outstanding",
			MaxAllowed: &maxAllowed,
		})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   verr.Message,
			Code:    "validation_error",
			Details: map[string]string{"field": verr.Field},
		})
	case ledger.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "Concurrent update, please retry",
			Code:      "concurrent_modification",
			Retryable: true,
		})
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Payment already recorded", Code: "duplicate_idempotency_key"})
	case errors.Is(err, ledger.ErrEmailTaken):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Email already registered", Code: "email_taken"})
	case errors.Is(err, ledger.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "Not authorized", nil)
	case errors.Is(err, ledger.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, "Customer not found or not authorized", nil)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	default:
		h.logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var verr *ledger.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   verr.Message,
				Code:    "validation_error",
				Details: map[string]string{"field": verr.Field},
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func ownerParam(w http.ResponseWriter, r *http.Request) (ledger.OwnerID, bool) {
	v := r.URL.Query().Get("user_id")
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "user_id query parameter required", nil)
		return 0, false
	}
	return ledger.OwnerID(id), true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name, nil)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
