package insurance

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinica/clinic/pkg/apperr"
	"github.com/clinica/clinic/pkg/money"
)

var hundred = decimal.NewFromInt(100)

// Calculate splits each line between insurer and patient.
//
// With a nil policy every line is 0% covered, but a Calculation is still
// returned. Lines no rule matches fall back to the policy's blanket percent,
// then to 0%. InsuranceCovers is rounded first and PatientPays is derived by
// subtraction, so covers+pays equals the base price on every line; totals are
// sums of the rounded line values.
func Calculate(policy *Policy, lines []ServiceLine) (*Calculation, error) {
	calc := &Calculation{
		Lines:                make([]CoverageResult, 0, len(lines)),
		TotalBaseAmount:      decimal.Zero,
		TotalInsuranceCovers: decimal.Zero,
		TotalPatientPays:     decimal.Zero,
	}
	if policy != nil {
		id := policy.ID
		calc.PolicyID = &id
		calc.PolicyName = policy.Name
	}

	for i, line := range lines {
		if err := ValidateLine(line); err != nil {
			return nil, apperr.InvalidServiceLine("line %d: %s", i+1, apperr.Reason(err))
		}

		pct := decimal.Zero
		if policy != nil {
			pct = policy.PercentFor(line.ServiceID, line.Category)
		}
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return nil, apperr.New(apperr.TypeInvalidCoverageRule,
				"coverage percent %s for service %s is outside 0-100", pct, line.ServiceID)
		}

		base := line.TotalPrice()
		covers := money.Percent(base, pct)
		res := CoverageResult{
			ServiceID:       line.ServiceID,
			BasePrice:       base,
			CoveragePercent: pct,
			InsuranceCovers: covers,
			PatientPays:     base.Sub(covers),
		}
		calc.Lines = append(calc.Lines, res)
		calc.TotalBaseAmount = calc.TotalBaseAmount.Add(res.BasePrice)
		calc.TotalInsuranceCovers = calc.TotalInsuranceCovers.Add(res.InsuranceCovers)
		calc.TotalPatientPays = calc.TotalPatientPays.Add(res.PatientPays)
	}
	return calc, nil
}

// ValidateLine checks quantity and unit price.
func ValidateLine(line ServiceLine) error {
	if line.Quantity <= 0 {
		return apperr.InvalidServiceLine("quantity must be positive, got %d", line.Quantity)
	}
	if line.UnitPrice.IsNegative() {
		return apperr.InvalidServiceLine("unit price must not be negative, got %s", line.UnitPrice)
	}
	return nil
}

// PercentFor resolves the coverage percent for a service: a service rule wins
// over a category rule, which wins over the blanket percent.
func (p *Policy) PercentFor(serviceID uuid.UUID, category string) decimal.Decimal {
	var byCategory *decimal.Decimal
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.ServiceID != nil && *r.ServiceID == serviceID {
			return r.Percent
		}
		if byCategory == nil && r.Category != nil && category != "" && strings.EqualFold(*r.Category, category) {
			byCategory = &r.Percent
		}
	}
	if byCategory != nil {
		return *byCategory
	}
	if p.DefaultPercent != nil {
		return *p.DefaultPercent
	}
	return decimal.Zero
}

// Totals is the amount an invoice is created for.
type Totals struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// InvoiceTotals returns the sum of line prices when calc is nil, otherwise
// the patient share of the calculation.
func InvoiceTotals(lines []ServiceLine, calc *Calculation) Totals {
	if calc != nil {
		return Totals{TotalAmount: calc.TotalPatientPays}
	}
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.TotalPrice())
	}
	return Totals{TotalAmount: total}
}
