package ledger

import (
	"sort"
	"time"
)

// =============================================================================
// DASHBOARD - Owner-wide summaries
// =============================================================================

// DashboardStats summarizes all entries of one owner.
type DashboardStats struct {
	TotalCredits    Money
	TotalPayments   Money
	Outstanding     Money
	ActiveCustomers int
}

// MonthlyTotal is the sum of entries booked in one calendar month.
type MonthlyTotal struct {
	Month    time.Month
	Credits  Money
	Payments Money
}

// CustomerBalance is the outstanding balance of one customer.
type CustomerBalance struct {
	CustomerID  CustomerID
	Name        string
	Outstanding Money
}

// DefaultTopDebtors is how many customers the dashboard ranks.
const DefaultTopDebtors = 5

func Summarize(credits []CreditEntry, payments []PaymentEntry, activeCustomers int) DashboardStats {
	t := TotalsOf(credits, payments)
	return DashboardStats{
		TotalCredits:    t.Credits,
		TotalPayments:   t.Payments,
		Outstanding:     t.Outstanding(),
		ActiveCustomers: activeCustomers,
	}
}

// MonthlyTotals returns twelve rows, January first, for the given year.
// Months without entries report zero.
func MonthlyTotals(credits []CreditEntry, payments []PaymentEntry, year int) []MonthlyTotal {
	out := make([]MonthlyTotal, 12)
	for i := range out {
		out[i] = MonthlyTotal{Month: time.Month(i + 1), Credits: Zero, Payments: Zero}
	}
	for _, c := range credits {
		if c.OccurredOn.Year() != year {
			continue
		}
		m := &out[c.OccurredOn.Month()-1]
		m.Credits = m.Credits.Add(c.Amount)
	}
	for _, p := range payments {
		if p.OccurredOn.Year() != year {
			continue
		}
		m := &out[p.OccurredOn.Month()-1]
		m.Payments = m.Payments.Add(p.Amount)
	}
	return out
}

// CustomerBalances computes the outstanding balance of every customer,
// including customers without entries.
func CustomerBalances(customers []Customer, credits []CreditEntry, payments []PaymentEntry) []CustomerBalance {
	byCustomer := make(map[CustomerID]*Totals, len(customers))
	for _, c := range customers {
		byCustomer[c.ID] = &Totals{Credits: Zero, Payments: Zero}
	}
	for _, c := range credits {
		if t, ok := byCustomer[c.CustomerID]; ok {
			t.Credits = t.Credits.Add(c.Amount)
		}
	}
	for _, p := range payments {
		if t, ok := byCustomer[p.CustomerID]; ok {
			t.Payments = t.Payments.Add(p.Amount)
		}
	}

	out := make([]CustomerBalance, 0, len(customers))
	for _, c := range customers {
		out = append(out, CustomerBalance{
			CustomerID:  c.ID,
			Name:        c.Name,
			Outstanding: byCustomer[c.ID].Outstanding(),
		})
	}
	return out
}

// TopDebtors keeps customers who still owe money, largest balance first,
// and returns at most n of them. Ties are broken by name.
func TopDebtors(balances []CustomerBalance, n int) []CustomerBalance {
	if n <= 0 {
		n = DefaultTopDebtors
	}
	owing := make([]CustomerBalance, 0, len(balances))
	for _, b := range balances {
		if b.Outstanding.IsPositive() {
			owing = append(owing, b)
		}
	}
	sort.SliceStable(owing, func(i, j int) bool {
		if c := owing[i].Outstanding.Cmp(owing[j].Outstanding); c != 0 {
			return c > 0
		}
		return owing[i].Name < owing[j].Name
	})
	if len(owing) > n {
		owing = owing[:n]
	}
	return owing
}
