// Package reporting aggregates billing data for the financial, sales,
// insurance and demographic reports.
package reporting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Period is a half-open time range [From, To).
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Report is the envelope every report is returned in.
type Report struct {
	Name        string      `json:"name"`
	GeneratedAt time.Time   `json:"generated_at"`
	Period      *Period     `json:"period,omitempty"`
	Data        interface{} `json:"data"`
}

// StatusTotals is one row of the per-status invoice aggregate.
type StatusTotals struct {
	Status  string          `json:"status"`
	Count   int             `json:"count"`
	Total   decimal.Decimal `json:"total_amount"`
	Paid    decimal.Decimal `json:"paid_amount"`
	Pending decimal.Decimal `json:"pending_amount"`
}

type FinancialSummary struct {
	InvoiceCount     int             `json:"invoice_count"`
	BilledAmount     decimal.Decimal `json:"billed_amount"`
	CollectedAmount  decimal.Decimal `json:"collected_amount"`
	CashCollected    decimal.Decimal `json:"cash_collected"`
	PendingAmount    decimal.Decimal `json:"pending_amount"`
	ExoneratedAmount decimal.Decimal `json:"exonerated_amount"`
	CancelledAmount  decimal.Decimal `json:"cancelled_amount"`
	CollectionRate   decimal.Decimal `json:"collection_rate"`
	ByStatus         []StatusTotals  `json:"by_status"`
}

type DaySales struct {
	Day            time.Time       `json:"day"`
	PaymentsTotal  decimal.Decimal `json:"payments_total"`
	PaymentCount   int             `json:"payment_count"`
	InvoicesIssued int             `json:"invoices_issued"`
}

// DayPayments and DayInvoices are the raw per-day rows merged into DaySales.
type DayPayments struct {
	Day   time.Time
	Count int
	Total decimal.Decimal
}

type DayInvoices struct {
	Day   time.Time
	Count int
}

type InsuranceLine struct {
	PolicyID        *uuid.UUID      `json:"policy_id,omitempty"`
	PolicyName      string          `json:"policy_name"`
	InvoiceCount    int             `json:"invoice_count"`
	BaseAmount      decimal.Decimal `json:"base_amount"`
	InsuranceCovers decimal.Decimal `json:"insurance_covers"`
	PatientPays     decimal.Decimal `json:"patient_pays"`
}

type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type Demographics struct {
	TotalPatients int      `json:"total_patients"`
	ByGender      []Bucket `json:"by_gender"`
	ByAgeBracket  []Bucket `json:"by_age_bracket"`
}
