package reporting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/clinica/clinic/pkg/money"
)

const (
	statusPending    = "PENDING"
	statusPartial    = "PARTIAL"
	statusPaid       = "PAID"
	statusCancelled  = "CANCELLED"
	statusExonerated = "EXONERATED"
)

var hundred = decimal.NewFromInt(100)

// Summarize folds per-status totals into the financial summary.
// Exonerated invoices count as collected; cash excludes them.
func Summarize(rows []StatusTotals, cash decimal.Decimal) FinancialSummary {
	s := FinancialSummary{
		BilledAmount:     decimal.Zero,
		CollectedAmount:  decimal.Zero,
		CashCollected:    cash,
		PendingAmount:    decimal.Zero,
		ExoneratedAmount: decimal.Zero,
		CancelledAmount:  decimal.Zero,
		ByStatus:         rows,
	}
	if s.ByStatus == nil {
		s.ByStatus = []StatusTotals{}
	}
	for _, r := range rows {
		s.InvoiceCount += r.Count
		s.BilledAmount = s.BilledAmount.Add(r.Total)
		switch r.Status {
		case statusPending, statusPartial:
			s.PendingAmount = s.PendingAmount.Add(r.Pending)
			s.CollectedAmount = s.CollectedAmount.Add(r.Paid)
		case statusPaid:
			s.CollectedAmount = s.CollectedAmount.Add(r.Paid)
		case statusExonerated:
			s.CollectedAmount = s.CollectedAmount.Add(r.Paid)
			s.ExoneratedAmount = s.ExoneratedAmount.Add(r.Total)
		case statusCancelled:
			s.CancelledAmount = s.CancelledAmount.Add(r.Total)
		}
	}
	s.CollectionRate = CollectionRate(s.CollectedAmount, s.BilledAmount.Sub(s.CancelledAmount))
	return s
}

// CollectionRate is collected/billable as a percentage, 0 when nothing is billable.
func CollectionRate(collected, billable decimal.Decimal) decimal.Decimal {
	if !billable.IsPositive() {
		return decimal.Zero
	}
	return money.Round(collected.Mul(hundred).Div(billable))
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

// MergeDaily joins payment and issuance rows by calendar day, oldest first.
func MergeDaily(payments []DayPayments, issued []DayInvoices) []DaySales {
	byDay := make(map[string]*DaySales)
	get := func(t time.Time) *DaySales {
		k := dayKey(t)
		d, ok := byDay[k]
		if !ok {
			d = &DaySales{Day: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), PaymentsTotal: decimal.Zero}
			byDay[k] = d
		}
		return d
	}
	for _, p := range payments {
		d := get(p.Day)
		d.PaymentCount += p.Count
		d.PaymentsTotal = d.PaymentsTotal.Add(p.Total)
	}
	for _, i := range issued {
		get(i.Day).InvoicesIssued += i.Count
	}

	out := make([]DaySales, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}

// ageBracket is an inclusive age range; Max < 0 means open-ended.
type ageBracket struct {
	Label    string
	Min, Max int
}

var ageBrackets = []ageBracket{
	{"0-17", 0, 17},
	{"18-39", 18, 39},
	{"40-64", 40, 64},
	{"65+", 65, -1},
}

const unknownBracket = "unknown"

// BracketFor returns the label for an age, or "unknown" for negative ages.
func BracketFor(age int) string {
	for _, b := range ageBrackets {
		if age >= b.Min && (b.Max < 0 || age <= b.Max) {
			return b.Label
		}
	}
	return unknownBracket
}

// OrderBrackets lists every bracket in age order, zero-filled, with
// "unknown" last when present.
func OrderBrackets(counts map[string]int) []Bucket {
	out := make([]Bucket, 0, len(ageBrackets)+1)
	for _, b := range ageBrackets {
		out = append(out, Bucket{Label: b.Label, Count: counts[b.Label]})
	}
	if n := counts[unknownBracket]; n > 0 {
		out = append(out, Bucket{Label: unknownBracket, Count: n})
	}
	return out
}
