package insurance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinica/clinic/pkg/money"
)

// Policy maps to the insurance_policy table.
// DefaultPercent, when set, is the blanket rule applied to services no other rule matches.
type Policy struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	Code           string           `db:"code" json:"code"`
	Name           string           `db:"name" json:"name"`
	DefaultPercent *decimal.Decimal `db:"default_percent" json:"default_percent,omitempty"`
	Active         bool             `db:"active" json:"active"`
	Rules          []CoverageRule   `db:"-" json:"rules"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// CoverageRule maps to the insurance_coverage_rule table. Exactly one of
// ServiceID or Category is set.
type CoverageRule struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	PolicyID  uuid.UUID       `db:"policy_id" json:"policy_id"`
	ServiceID *uuid.UUID      `db:"service_id" json:"service_id,omitempty"`
	Category  *string         `db:"category" json:"category,omitempty"`
	Percent   decimal.Decimal `db:"percent" json:"percent"`
}

// ServiceLine is one billed item.
type ServiceLine struct {
	ServiceID   uuid.UUID       `json:"service_id"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// TotalPrice is quantity x unit price at currency precision.
func (l ServiceLine) TotalPrice() decimal.Decimal {
	return money.Round(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// CoverageResult is the coverage split of a single line.
type CoverageResult struct {
	ServiceID       uuid.UUID       `json:"service_id"`
	BasePrice       decimal.Decimal `json:"base_price"`
	CoveragePercent decimal.Decimal `json:"coverage_percent"`
	InsuranceCovers decimal.Decimal `json:"insurance_covers"`
	PatientPays     decimal.Decimal `json:"patient_pays"`
}

// Calculation is the aggregate coverage breakdown for a set of lines.
// A nil *Calculation means coverage was not requested; a Calculation with a
// nil PolicyID means no insurance was selected and every line is 0%.
type Calculation struct {
	PolicyID             *uuid.UUID       `json:"policy_id,omitempty"`
	PolicyName           string           `json:"policy_name,omitempty"`
	Lines                []CoverageResult `json:"lines"`
	TotalBaseAmount      decimal.Decimal  `json:"total_base_amount"`
	TotalInsuranceCovers decimal.Decimal  `json:"total_insurance_covers"`
	TotalPatientPays     decimal.Decimal  `json:"total_patient_pays"`
}

// FullyCovered reports whether the patient owes nothing on a non-empty calculation.
func (c *Calculation) FullyCovered() bool {
	return c != nil && len(c.Lines) > 0 && c.TotalPatientPays.IsZero()
}
