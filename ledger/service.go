/*
service.go - Ledger service: ownership checks, persistence, serialized payments

PURPOSE:
  The layer the HTTP handlers call. It resolves IDs into records, checks
  that they belong to the calling owner, and wraps the pure engine and
  guard with the store.

PAYMENT FLOW (RecordPayment):
  1. Validate input (amount, date, method)
  2. Check the customer belongs to the owner
  3. Lock the customer (in-process) and open Store.WithCustomerTx
  4. Load totals -> ValidatePayment -> append on approval
  5. On ErrConcurrentModification retry 3-4 with fresh totals

  The original system read totals and inserted the payment without any
  serialization, so two concurrent payments could both pass the guard and
  jointly overdraw the customer. Steps 3-5 close that gap.

SEE ALSO:
  - guard.go: the decision itself
  - store.go: WithCustomerTx contract
*/
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

type EventType string

const (
	EventCreditRecorded  EventType = "credit.recorded"
	EventCreditDeleted   EventType = "credit.deleted"
	EventPaymentRecorded EventType = "payment.recorded"
	EventPaymentDeleted  EventType = "payment.deleted"
)

// Event notifies other systems that the ledger changed.
type Event struct {
	Type       EventType
	OwnerID    OwnerID
	CustomerID CustomerID
	EntryID    EntryID
	Amount     Money
	OccurredOn Date
	At         time.Time
}

// EventPublisher delivers ledger events. Failures never fail the write.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// Payment decision labels reported to MetricsRecorder.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
	DecisionInvalid  = "invalid"
)

// MetricsRecorder receives counters and timings from the service.
type MetricsRecorder interface {
	PaymentDecision(decision string)
	PaymentRetry()
	StatementBuilt(d time.Duration)
}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, Event) error { return nil }

type nopMetrics struct{}

func (nopMetrics) PaymentDecision(string)       {}
func (nopMetrics) PaymentRetry()                {}
func (nopMetrics) StatementBuilt(time.Duration) {}

// =============================================================================
// SERVICE
// =============================================================================

// DefaultPaymentRetries is how many times a conflicting payment is retried.
const DefaultPaymentRetries = 3

type Service struct {
	store   Store
	locks   *CustomerLocks
	logger  *zap.Logger
	events  EventPublisher
	metrics MetricsRecorder
	retries int
	now     func() time.Time
}

type Option func(*Service)

func WithEvents(p EventPublisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithPaymentRetries sets the retry budget for serialization conflicts.
func WithPaymentRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:   store,
		locks:   NewCustomerLocks(),
		logger:  logger,
		events:  nopEvents{},
		metrics: nopMetrics{},
		retries: DefaultPaymentRetries,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// OWNERS
// =============================================================================

func (s *Service) RegisterOwner(ctx context.Context, o Owner) (Owner, error) {
	o.ShopName = strings.TrimSpace(o.ShopName)
	o.OwnerName = strings.TrimSpace(o.OwnerName)
	o.Email = strings.ToLower(strings.TrimSpace(o.Email))
	o.Phone = strings.TrimSpace(o.Phone)
	switch {
	case o.ShopName == "":
		return Owner{}, invalid("shop_name", "shop name is required")
	case o.OwnerName == "":
		return Owner{}, invalid("owner_name", "owner name is required")
	case o.Email == "" || !strings.Contains(o.Email, "@"):
		return Owner{}, invalid("email", "a valid email is required")
	}
	return s.store.CreateOwner(ctx, o)
}

func (s *Service) GetOwner(ctx context.Context, id OwnerID) (Owner, error) {
	return s.store.GetOwner(ctx, id)
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Service) CreateCustomer(ctx context.Context, c Customer) (Customer, error) {
	if err := validateCustomer(&c); err != nil {
		return Customer{}, err
	}
	if _, err := s.store.GetOwner(ctx, c.OwnerID); err != nil {
		return Customer{}, err
	}
	return s.store.CreateCustomer(ctx, c)
}

func (s *Service) UpdateCustomer(ctx context.Context, owner OwnerID, c Customer) (Customer, error) {
	existing, err := s.authorizedCustomer(ctx, owner, c.ID)
	if err != nil {
		return Customer{}, err
	}
	c.OwnerID = existing.OwnerID
	c.CreatedAt = existing.CreatedAt
	if err := validateCustomer(&c); err != nil {
		return Customer{}, err
	}
	return s.store.UpdateCustomer(ctx, c)
}

// DeleteCustomer removes the customer together with its entries.
func (s *Service) DeleteCustomer(ctx context.Context, owner OwnerID, id CustomerID) error {
	if _, err := s.authorizedCustomer(ctx, owner, id); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.store.DeleteCustomer(ctx, id)
}

func (s *Service) ListCustomers(ctx context.Context, owner OwnerID) ([]Customer, error) {
	return s.store.ListCustomers(ctx, owner)
}

// GetCustomer returns the customer if it belongs to owner.
func (s *Service) GetCustomer(ctx context.Context, owner OwnerID, id CustomerID) (Customer, error) {
	return s.ownedCustomer(ctx, owner, id)
}

func validateCustomer(c *Customer) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	if c.Name == "" {
		return invalid("name", "customer name is required")
	}
	if c.Phone == "" {
		return invalid("phone", "customer phone is required")
	}
	return nil
}

// ownedCustomer reports a foreign customer as not found, so callers cannot
// discover other owners' customer IDs.
func (s *Service) ownedCustomer(ctx context.Context, owner OwnerID, id CustomerID) (Customer, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return Customer{}, err
	}
	if c.OwnerID != owner {
		return Customer{}, ErrCustomerNotFound
	}
	return c, nil
}

// authorizedCustomer distinguishes missing from foreign (404 vs 403).
func (s *Service) authorizedCustomer(ctx context.Context, owner OwnerID, id CustomerID) (Customer, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return Customer{}, err
	}
	if c.OwnerID != owner {
		return Customer{}, ErrNotAuthorized
	}
	return c, nil
}

// =============================================================================
// CREDITS
// =============================================================================

// NewCredit is a credit entry as submitted by the owner.
type NewCredit struct {
	OwnerID     OwnerID
	CustomerID  CustomerID
	Amount      Money
	Description string
	OccurredOn  Date
}

func (s *Service) RecordCredit(ctx context.Context, in NewCredit) (CreditEntry, error) {
	if err := ValidateAmount(in.Amount); err != nil {
		return CreditEntry{}, err
	}
	if in.OccurredOn.IsZero() {
		return CreditEntry{}, invalid("date", "missing date")
	}
	if _, err := s.ownedCustomer(ctx, in.OwnerID, in.CustomerID); err != nil {
		return CreditEntry{}, err
	}

	// Appended under the customer scope so statements never see half of
	// a concurrent credit/payment pair.
	unlock := s.locks.Lock(in.CustomerID)
	var recorded CreditEntry
	err := s.store.WithCustomerTx(ctx, in.CustomerID, func(es EntryStore) error {
		var err error
		recorded, err = es.AppendCredit(ctx, CreditEntry{
			OwnerID:     in.OwnerID,
			CustomerID:  in.CustomerID,
			Amount:      in.Amount,
			Description: strings.TrimSpace(in.Description),
			OccurredOn:  in.OccurredOn,
		})
		return err
	})
	unlock()
	if err != nil {
		return CreditEntry{}, err
	}

	s.publish(ctx, Event{
		Type:       EventCreditRecorded,
		OwnerID:    recorded.OwnerID,
		CustomerID: recorded.CustomerID,
		EntryID:    recorded.ID,
		Amount:     recorded.Amount,
		OccurredOn: recorded.OccurredOn,
	})
	return recorded, nil
}

// DeleteCredit removes a credit entry. It runs under the customer lock so
// it cannot interleave with a payment validated against the old totals.
func (s *Service) DeleteCredit(ctx context.Context, owner OwnerID, id EntryID) error {
	c, err := s.store.GetCredit(ctx, id)
	if err != nil {
		return err
	}
	if c.OwnerID != owner {
		return ErrNotAuthorized
	}

	unlock := s.locks.Lock(c.CustomerID)
	defer unlock()
	if err := s.store.DeleteCredit(ctx, id); err != nil {
		return err
	}

	s.publish(ctx, Event{
		Type:       EventCreditDeleted,
		OwnerID:    c.OwnerID,
		CustomerID: c.CustomerID,
		EntryID:    c.ID,
		Amount:     c.Amount,
		OccurredOn: c.OccurredOn,
	})
	return nil
}

// CreditListing is a credit entry with its customer's name.
type CreditListing struct {
	CreditEntry
	CustomerName string
}

func (s *Service) ListCredits(ctx context.Context, owner OwnerID) ([]CreditListing, error) {
	credits, err := s.store.ListCreditsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	names, err := s.customerNames(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]CreditListing, len(credits))
	for i, c := range credits {
		out[i] = CreditListing{CreditEntry: c, CustomerName: nameOrUnknown(names, c.CustomerID)}
	}
	return out, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// NewPayment is a payment as submitted by the owner.
type NewPayment struct {
	OwnerID        OwnerID
	CustomerID     CustomerID
	Amount         Money
	Method         string
	OccurredOn     Date
	IdempotencyKey string
}

// RecordPayment validates and stores a payment. A payment larger than the
// outstanding balance returns *OverpaymentError carrying the maximum.
func (s *Service) RecordPayment(ctx context.Context, in NewPayment) (PaymentEntry, error) {
	in.Method = strings.TrimSpace(in.Method)
	if err := ValidateAmount(in.Amount); err != nil {
		s.metrics.PaymentDecision(DecisionInvalid)
		return PaymentEntry{}, err
	}
	if in.OccurredOn.IsZero() {
		s.metrics.PaymentDecision(DecisionInvalid)
		return PaymentEntry{}, invalid("date", "missing date")
	}
	if in.Method == "" {
		s.metrics.PaymentDecision(DecisionInvalid)
		return PaymentEntry{}, invalid("payment_method", "payment method is required")
	}
	if _, err := s.ownedCustomer(ctx, in.OwnerID, in.CustomerID); err != nil {
		return PaymentEntry{}, err
	}

	var (
		recorded PaymentEntry
		err      error
	)
	for attempt := 0; ; attempt++ {
		recorded, err = s.tryRecordPayment(ctx, in)
		if err == nil || !IsRetryable(err) || attempt >= s.retries {
			break
		}
		if ctx.Err() != nil {
			return PaymentEntry{}, ctx.Err()
		}
		s.metrics.PaymentRetry()
		s.logger.Warn("payment conflicted, retrying",
			zap.Int64("customer_id", int64(in.CustomerID)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	switch {
	case err == nil:
		s.metrics.PaymentDecision(DecisionApproved)
	case IsClientError(err):
		if errors.Is(err, ErrPaymentExceedsOutstanding) {
			s.metrics.PaymentDecision(DecisionRejected)
		}
		s.logger.Info("payment rejected",
			zap.Int64("customer_id", int64(in.CustomerID)),
			zap.Stringer("amount", in.Amount),
			zap.Error(err))
		return PaymentEntry{}, err
	default:
		s.logger.Error("payment failed",
			zap.Int64("customer_id", int64(in.CustomerID)),
			zap.Error(err))
		return PaymentEntry{}, err
	}

	s.publish(ctx, Event{
		Type:       EventPaymentRecorded,
		OwnerID:    recorded.OwnerID,
		CustomerID: recorded.CustomerID,
		EntryID:    recorded.ID,
		Amount:     recorded.Amount,
		OccurredOn: recorded.OccurredOn,
	})
	return recorded, nil
}

// tryRecordPayment is one serialized read-validate-write attempt.
func (s *Service) tryRecordPayment(ctx context.Context, in NewPayment) (PaymentEntry, error) {
	unlock := s.locks.Lock(in.CustomerID)
	defer unlock()

	var recorded PaymentEntry
	err := s.store.WithCustomerTx(ctx, in.CustomerID, func(es EntryStore) error {
		totals, err := es.Totals(ctx, in.CustomerID)
		if err != nil {
			return err
		}
		decision, err := ValidatePayment(in.Amount, totals.Credits, totals.Payments)
		if err != nil {
			return err
		}
		if err := decision.Err(in.CustomerID, in.Amount); err != nil {
			return err
		}
		recorded, err = es.AppendPayment(ctx, PaymentEntry{
			OwnerID:        in.OwnerID,
			CustomerID:     in.CustomerID,
			Amount:         in.Amount,
			Method:         in.Method,
			OccurredOn:     in.OccurredOn,
			IdempotencyKey: in.IdempotencyKey,
		})
		return err
	})
	return recorded, err
}

func (s *Service) DeletePayment(ctx context.Context, owner OwnerID, id EntryID) error {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if p.OwnerID != owner {
		return ErrNotAuthorized
	}

	unlock := s.locks.Lock(p.CustomerID)
	defer unlock()
	if err := s.store.DeletePayment(ctx, id); err != nil {
		return err
	}

	s.publish(ctx, Event{
		Type:       EventPaymentDeleted,
		OwnerID:    p.OwnerID,
		CustomerID: p.CustomerID,
		EntryID:    p.ID,
		Amount:     p.Amount,
		OccurredOn: p.OccurredOn,
	})
	return nil
}

// PaymentListing is a payment entry with its customer's name.
type PaymentListing struct {
	PaymentEntry
	CustomerName string
}

func (s *Service) ListPayments(ctx context.Context, owner OwnerID) ([]PaymentListing, error) {
	payments, err := s.store.ListPaymentsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	names, err := s.customerNames(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]PaymentListing, len(payments))
	for i, p := range payments {
		out[i] = PaymentListing{PaymentEntry: p, CustomerName: nameOrUnknown(names, p.CustomerID)}
	}
	return out, nil
}

// =============================================================================
// STATEMENT AND DASHBOARD
// =============================================================================

// Statement builds the ledger of one customer.
func (s *Service) Statement(ctx context.Context, owner OwnerID, id CustomerID) (Statement, error) {
	customer, err := s.ownedCustomer(ctx, owner, id)
	if err != nil {
		return Statement{}, err
	}

	// Both lists come from one serialized scope, so a payment is never
	// shown without the credits it was validated against.
	var (
		credits  []CreditEntry
		payments []PaymentEntry
	)
	err = s.store.WithCustomerTx(ctx, id, func(es EntryStore) error {
		var err error
		if credits, err = es.ListCredits(ctx, id); err != nil {
			return err
		}
		payments, err = es.ListPayments(ctx, id)
		return err
	})
	if err != nil {
		return Statement{}, err
	}

	start := s.now()
	stmt, err := BuildStatement(credits, payments)
	if err != nil {
		s.logger.Error("stored entries failed validation",
			zap.Int64("customer_id", int64(id)), zap.Error(err))
		return Statement{}, err
	}
	s.metrics.StatementBuilt(s.now().Sub(start))

	stmt.CustomerID = customer.ID
	stmt.CustomerName = customer.Name
	return stmt, nil
}

func (s *Service) DashboardStats(ctx context.Context, owner OwnerID) (DashboardStats, error) {
	customers, credits, payments, err := s.ownerBook(ctx, owner)
	if err != nil {
		return DashboardStats{}, err
	}
	return Summarize(credits, payments, len(customers)), nil
}

// DashboardCharts is the chart data for one owner and year.
type DashboardCharts struct {
	Year         int
	Monthly      []MonthlyTotal
	TopCustomers []CustomerBalance
}

// DashboardCharts defaults to the current year when year is zero.
func (s *Service) DashboardCharts(ctx context.Context, owner OwnerID, year int) (DashboardCharts, error) {
	if year == 0 {
		year = s.now().Year()
	}
	customers, credits, payments, err := s.ownerBook(ctx, owner)
	if err != nil {
		return DashboardCharts{}, err
	}
	return DashboardCharts{
		Year:         year,
		Monthly:      MonthlyTotals(credits, payments, year),
		TopCustomers: TopDebtors(CustomerBalances(customers, credits, payments), DefaultTopDebtors),
	}, nil
}

func (s *Service) ownerBook(ctx context.Context, owner OwnerID) ([]Customer, []CreditEntry, []PaymentEntry, error) {
	customers, err := s.store.ListCustomers(ctx, owner)
	if err != nil {
		return nil, nil, nil, err
	}
	credits, err := s.store.ListCreditsByOwner(ctx, owner)
	if err != nil {
		return nil, nil, nil, err
	}
	payments, err := s.store.ListPaymentsByOwner(ctx, owner)
	if err != nil {
		return nil, nil, nil, err
	}
	return customers, credits, payments, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) customerNames(ctx context.Context, owner OwnerID) (map[CustomerID]string, error) {
	customers, err := s.store.ListCustomers(ctx, owner)
	if err != nil {
		return nil, err
	}
	names := make(map[CustomerID]string, len(customers))
	for _, c := range customers {
		names[c.ID] = c.Name
	}
	return names, nil
}

func nameOrUnknown(names map[CustomerID]string, id CustomerID) string {
	if n, ok := names[id]; ok {
		return n
	}
	return "Unknown"
}

func (s *Service) publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("failed to publish ledger event",
			zap.String("type", string(e.Type)),
			zap.Int64("entry_id", int64(e.EntryID)),
			zap.Error(err))
	}
}
