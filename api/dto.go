/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS:
  Amounts are ledger.Money and travel as fixed-point strings ("60.00").
  Dates are ledger.Date and travel as "YYYY-MM-DD".

VALIDATION:
  Validation is done in the ledger service, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/credit-ledger/ledger"
)

// =============================================================================
// OWNERS
// =============================================================================

type CreateOwnerRequest struct {
	ShopName  string `json:"shop_name"`
	OwnerName string `json:"owner_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type OwnerDTO struct {
	UserID    int64     `json:"user_id"`
	ShopName  string    `json:"shop_name"`
	OwnerName string    `json:"owner_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toOwnerDTO(o ledger.Owner) OwnerDTO {
	return OwnerDTO{
		UserID:    int64(o.ID),
		ShopName:  o.ShopName,
		OwnerName: o.OwnerName,
		Email:     o.Email,
		Phone:     o.Phone,
		CreatedAt: o.CreatedAt,
	}
}

// =============================================================================
// CUSTOMERS
// =============================================================================

type CreateCustomerRequest struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
}

type UpdateCustomerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type CustomerDTO struct {
	CustomerID int64     `json:"customer_id"`
	UserID     int64     `json:"user_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Email      string    `json:"email,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toCustomerDTO(c ledger.Customer) CustomerDTO {
	return CustomerDTO{
		CustomerID: int64(c.ID),
		UserID:     int64(c.OwnerID),
		Name:       c.Name,
		Phone:      c.Phone,
		Email:      c.Email,
		CreatedAt:  c.CreatedAt,
	}
}

// =============================================================================
// CREDITS AND PAYMENTS
// =============================================================================

type CreateCreditRequest struct {
	UserID      int64        `json:"user_id"`
	CustomerID  int64        `json:"customer_id"`
	Amount      ledger.Money `json:"amount"`
	Description string       `json:"description"`
	Date        ledger.Date  `json:"date"`
}

type CreditDTO struct {
	CreditID     int64        `json:"credit_id"`
	UserID       int64        `json:"user_id"`
	CustomerID   int64        `json:"customer_id"`
	CustomerName string       `json:"customer_name"`
	Amount       ledger.Money `json:"amount"`
	Description  string       `json:"description,omitempty"`
	Date         ledger.Date  `json:"date"`
	CreatedAt    time.Time    `json:"created_at"`
}

func toCreditDTO(c ledger.CreditEntry, customerName string) CreditDTO {
	return CreditDTO{
		CreditID:     int64(c.ID),
		UserID:       int64(c.OwnerID),
		CustomerID:   int64(c.CustomerID),
		CustomerName: customerName,
		Amount:       c.Amount,
		Description:  c.Description,
		Date:         c.OccurredOn,
		CreatedAt:    c.CreatedAt,
	}
}

// CreatePaymentRequest may carry its idempotency key in the body or in
// the Idempotency-Key header; the header wins.
type CreatePaymentRequest struct {
	UserID         int64        `json:"user_id"`
	CustomerID     int64        `json:"customer_id"`
	Amount         ledger.Money `json:"amount"`
	PaymentMethod  string       `json:"payment_method"`
	Date           ledger.Date  `json:"date"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
}

type PaymentDTO struct {
	PaymentID     int64        `json:"payment_id"`
	UserID        int64        `json:"user_id"`
	CustomerID    int64        `json:"customer_id"`
	CustomerName  string       `json:"customer_name"`
	Amount        ledger.Money `json:"amount"`
	PaymentMethod string       `json:"payment_method"`
	Date          ledger.Date  `json:"date"`
	CreatedAt     time.Time    `json:"created_at"`
}

func toPaymentDTO(p ledger.PaymentEntry, customerName string) PaymentDTO {
	return PaymentDTO{
		PaymentID:     int64(p.ID),
		UserID:        int64(p.OwnerID),
		CustomerID:    int64(p.CustomerID),
		CustomerName:  customerName,
		Amount:        p.Amount,
		PaymentMethod: p.Method,
		Date:          p.OccurredOn,
		CreatedAt:     p.CreatedAt,
	}
}

// =============================================================================
// LEDGER
// =============================================================================

type LedgerTransactionDTO struct {
	Date        ledger.Date  `json:"date"`
	Description string       `json:"description"`
	Debit       ledger.Money `json:"debit"`
	Credit      ledger.Money `json:"credit"`
	Balance     ledger.Money `json:"balance"`
	Type        string       `json:"type"`
}

type LedgerResponse struct {
	CustomerID         int64                  `json:"customer_id"`
	CustomerName       string                 `json:"customer_name"`
	Transactions       []LedgerTransactionDTO `json:"transactions"`
	OutstandingBalance ledger.Money           `json:"outstanding_balance"`
}

func toLedgerResponse(stmt ledger.Statement) LedgerResponse {
	txs := make([]LedgerTransactionDTO, len(stmt.Lines))
	for i, l := range stmt.Lines {
		txs[i] = LedgerTransactionDTO{
			Date:        l.Date,
			Description: l.Description,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Balance:     l.Balance,
			Type:        string(l.Kind),
		}
	}
	return LedgerResponse{
		CustomerID:         int64(stmt.CustomerID),
		CustomerName:       stmt.CustomerName,
		Transactions:       txs,
		OutstandingBalance: stmt.OutstandingBalance,
	}
}

// =============================================================================
// DASHBOARD
// =============================================================================

type DashboardStatsDTO struct {
	TotalCredits    ledger.Money `json:"total_credits"`
	TotalPayments   ledger.Money `json:"total_payments"`
	Outstanding     ledger.Money `json:"outstanding"`
	ActiveCustomers int          `json:"active_customers"`
}

type MonthlyDataDTO struct {
	Month    string       `json:"month"`
	Credits  ledger.Money `json:"credits"`
	Payments ledger.Money `json:"payments"`
}

type TopCustomerDTO struct {
	CustomerID  int64        `json:"customer_id"`
	Name        string       `json:"name"`
	Outstanding ledger.Money `json:"outstanding"`
}

type DashboardChartsResponse struct {
	Year         int              `json:"year"`
	MonthlyData  []MonthlyDataDTO `json:"monthly_data"`
	TopCustomers []TopCustomerDTO `json:"top_customers"`
}

func toChartsResponse(c ledger.DashboardCharts) DashboardChartsResponse {
	monthly := make([]MonthlyDataDTO, len(c.Monthly))
	for i, m := range c.Monthly {
		monthly[i] = MonthlyDataDTO{
			Month:    m.Month.String()[:3],
			Credits:  m.Credits,
			Payments: m.Payments,
		}
	}
	top := make([]TopCustomerDTO, len(c.TopCustomers))
	for i, b := range c.TopCustomers {
		top[i] = TopCustomerDTO{CustomerID: int64(b.CustomerID), Name: b.Name, Outstanding: b.Outstanding}
	}
	return DashboardChartsResponse{Year: c.Year, MonthlyData: monthly, TopCustomers: top}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`

	// Set for rejected payments: the largest amount that would be accepted.
	MaxAllowed *ledger.Money `json:"max_allowed,omitempty"`
	// Set when the same request may succeed if sent again.
	Retryable bool `json:"retryable,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
