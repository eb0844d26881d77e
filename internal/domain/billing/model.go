package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinica/clinic/internal/domain/insurance"
	"github.com/clinica/clinic/pkg/apperr"
)

// Status is the lifecycle state of an invoice.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPartial    Status = "PARTIAL"
	StatusPaid       Status = "PAID"
	StatusCancelled  Status = "CANCELLED"
	StatusExonerated Status = "EXONERATED"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusPartial: true, StatusPaid: true, StatusCancelled: true, StatusExonerated: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", apperr.Validation("invalid invoice status: %s", s)
	}
	return st, nil
}

// Invoice maps to the invoice table.
//
// TotalAmount is what the patient owes: the sum of line totals, or the
// patient share when insurance was applied. Outside CANCELLED,
// PaidAmount + PendingAmount == TotalAmount.
type Invoice struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	Number            string          `db:"invoice_number" json:"invoice_number"`
	PatientID         uuid.UUID       `db:"patient_id" json:"patient_id"`
	InsuranceApplied  bool            `db:"insurance_applied" json:"insurance_applied"`
	InsurancePolicyID *uuid.UUID      `db:"insurance_policy_id" json:"insurance_policy_id,omitempty"`
	Status            Status          `db:"status" json:"status"`
	SubtotalAmount    decimal.Decimal `db:"subtotal_amount" json:"subtotal_amount"`
	InsuranceAmount   decimal.Decimal `db:"insurance_amount" json:"insurance_amount"`
	TotalAmount       decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount        decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	PendingAmount     decimal.Decimal `db:"pending_amount" json:"pending_amount"`
	Currency          string          `db:"currency" json:"currency"`
	Notes             *string         `db:"notes" json:"notes,omitempty"`
	CreatedBy         string          `db:"created_by" json:"created_by"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`

	Items       []InvoiceItem          `db:"-" json:"items,omitempty"`
	Coverage    *insurance.Calculation `db:"-" json:"-"`
	Exoneration *Exoneration           `db:"-" json:"exoneration,omitempty"`
}

// InvoiceItem is a billed service line with its coverage split frozen at creation.
type InvoiceItem struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	InvoiceID       uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	LineNo          int             `db:"line_no" json:"line_no"`
	ServiceID       uuid.UUID       `db:"service_id" json:"service_id"`
	Description     string          `db:"description" json:"description"`
	Category        string          `db:"category" json:"category"`
	Quantity        int             `db:"quantity" json:"quantity"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal       decimal.Decimal `db:"line_total" json:"line_total"`
	CoveragePercent decimal.Decimal `db:"coverage_percent" json:"coverage_percent"`
	InsuranceCovers decimal.Decimal `db:"insurance_covers" json:"insurance_covers"`
	PatientPays     decimal.Decimal `db:"patient_pays" json:"patient_pays"`
}

// Exoneration maps to the invoice_exoneration table. Records are never
// deleted; a reversal stamps ReversedAt/ReversedBy/ReversalStatus.
type Exoneration struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	InvoiceID          uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Reason             string          `db:"reason" json:"reason"`
	AuthorizationCode  *string         `db:"authorization_code" json:"authorization_code,omitempty"`
	Notes              *string         `db:"notes" json:"notes,omitempty"`
	OriginalAmount     decimal.Decimal `db:"original_amount" json:"original_amount"`
	ExoneratedAmount   decimal.Decimal `db:"exonerated_amount" json:"exonerated_amount"`
	PreviousPaidAmount decimal.Decimal `db:"previous_paid_amount" json:"previous_paid_amount"`
	ExoneratedBy       string          `db:"exonerated_by" json:"exonerated_by"`
	ExoneratedAt       time.Time       `db:"exonerated_at" json:"exonerated_at"`
	ReversedAt         *time.Time      `db:"reversed_at" json:"reversed_at,omitempty"`
	ReversedBy         *string         `db:"reversed_by" json:"reversed_by,omitempty"`
	ReversalStatus     *Status         `db:"reversal_status" json:"reversal_status,omitempty"`
}

func (e *Exoneration) Active() bool {
	return e != nil && e.ReversedAt == nil
}

// Payment maps to the invoice_payment table.
type Payment struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	InvoiceID  uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Method     string          `db:"method" json:"method"`
	Reference  *string         `db:"reference" json:"reference,omitempty"`
	ReceivedBy string          `db:"received_by" json:"received_by"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

var validPaymentMethods = map[string]bool{
	"cash": true, "card": true, "transfer": true, "check": true, "other": true,
}

// StatusHistory maps to the invoice_status_history table.
type StatusHistory struct {
	ID         uuid.UUID        `db:"id" json:"id"`
	InvoiceID  uuid.UUID        `db:"invoice_id" json:"invoice_id"`
	FromStatus *Status          `db:"from_status" json:"from_status,omitempty"`
	ToStatus   Status           `db:"to_status" json:"to_status"`
	Amount     *decimal.Decimal `db:"amount" json:"amount,omitempty"`
	Reason     *string          `db:"reason" json:"reason,omitempty"`
	ChangedBy  string           `db:"changed_by" json:"changed_by"`
	ChangedAt  time.Time        `db:"changed_at" json:"changed_at"`
}

// DisplayedInsurance is the coverage breakdown to present. An active
// exoneration takes precedence and suppresses it.
func (inv *Invoice) DisplayedInsurance() *insurance.Calculation {
	if inv.Exoneration.Active() {
		return nil
	}
	return inv.Coverage
}

// Reconciles reports whether paid and pending add up to the total.
// Cancelled invoices keep whatever amounts they had and always pass.
func (inv *Invoice) Reconciles() bool {
	if inv.Status == StatusCancelled {
		return true
	}
	return inv.PaidAmount.Add(inv.PendingAmount).Equal(inv.TotalAmount)
}

// CoverageFromItems rebuilds the insurance breakdown stored on the items.
func CoverageFromItems(inv *Invoice, policyName string) *insurance.Calculation {
	if !inv.InsuranceApplied {
		return nil
	}
	calc := &insurance.Calculation{
		PolicyID:             inv.InsurancePolicyID,
		PolicyName:           policyName,
		Lines:                make([]insurance.CoverageResult, 0, len(inv.Items)),
		TotalBaseAmount:      decimal.Zero,
		TotalInsuranceCovers: decimal.Zero,
		TotalPatientPays:     decimal.Zero,
	}
	for _, it := range inv.Items {
		calc.Lines = append(calc.Lines, insurance.CoverageResult{
			ServiceID:       it.ServiceID,
			BasePrice:       it.LineTotal,
			CoveragePercent: it.CoveragePercent,
			InsuranceCovers: it.InsuranceCovers,
			PatientPays:     it.PatientPays,
		})
		calc.TotalBaseAmount = calc.TotalBaseAmount.Add(it.LineTotal)
		calc.TotalInsuranceCovers = calc.TotalInsuranceCovers.Add(it.InsuranceCovers)
		calc.TotalPatientPays = calc.TotalPatientPays.Add(it.PatientPays)
	}
	return calc
}

// SearchParams filters invoice searches. Zero values are ignored.
type SearchParams struct {
	Status    Status
	PatientID *uuid.UUID
	Number    string
	From      *time.Time
	To        *time.Time
}
