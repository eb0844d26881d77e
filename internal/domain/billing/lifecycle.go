package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/clinica/clinic/internal/domain/insurance"
	"github.com/clinica/clinic/pkg/apperr"
	"github.com/clinica/clinic/pkg/money"
)

// allowedTransitions lists every status an invoice may move to. Which
// operation may drive each edge is enforced by the functions below.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusPartial, StatusPaid, StatusCancelled, StatusExonerated},
	StatusPartial:    {StatusPartial, StatusPaid, StatusCancelled, StatusExonerated},
	StatusPaid:       {StatusCancelled, StatusExonerated},
	StatusExonerated: {StatusPending, StatusPaid, StatusCancelled},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition describes a committed status change. Amount is the money
// moved by it, if any.
type Transition struct {
	From   Status
	To     Status
	Amount *decimal.Decimal
}

// CreateInvoiceTotals is the amount a new invoice is raised for.
func CreateInvoiceTotals(lines []insurance.ServiceLine, calc *insurance.Calculation) insurance.Totals {
	return insurance.InvoiceTotals(lines, calc)
}

// InitialStatus is PAID for a zero total and PENDING otherwise.
func InitialStatus(total decimal.Decimal) Status {
	if total.IsZero() {
		return StatusPaid
	}
	return StatusPending
}

// RegisterPayment applies amount to inv. On error inv is left untouched.
func RegisterPayment(inv *Invoice, amount decimal.Decimal) (Transition, error) {
	from := inv.Status
	if from != StatusPending && from != StatusPartial {
		return Transition{}, apperr.New(apperr.TypeInvalidTransition,
			"cannot register a payment on a %s invoice", from)
	}
	if !amount.IsPositive() {
		return Transition{}, apperr.InvalidPaymentAmount("payment amount must be greater than zero, got %s", amount)
	}
	if !money.HasMinorPrecision(amount) {
		return Transition{}, apperr.InvalidPaymentAmount("payment amount %s has more than two decimal places", amount)
	}
	if amount.GreaterThan(inv.PendingAmount) {
		return Transition{}, apperr.InvalidPaymentAmount("payment amount %s exceeds pending amount %s",
			amount.StringFixed(2), inv.PendingAmount.StringFixed(2))
	}

	inv.PaidAmount = inv.PaidAmount.Add(amount)
	inv.PendingAmount = inv.TotalAmount.Sub(inv.PaidAmount)
	inv.Status = StatusPartial
	if inv.PendingAmount.IsZero() {
		inv.Status = StatusPaid
	}
	return Transition{From: from, To: inv.Status, Amount: &amount}, nil
}

// ChangeStatus applies a manual status change. Payments and exoneration
// have their own operations; only PAID, CANCELLED and the reversal of an
// exoneration are reachable here.
func ChangeStatus(inv *Invoice, to Status, by string, at time.Time) (Transition, error) {
	if !to.Valid() {
		return Transition{}, apperr.Validation("invalid invoice status: %s", to)
	}
	from := inv.Status

	switch {
	case to == StatusExonerated && from == StatusExonerated:
		return Transition{}, apperr.New(apperr.TypeAlreadyExonerated, "invoice %s is already exonerated", inv.Number)
	case to == StatusExonerated, to == StatusPartial:
		return Transition{}, apperr.InvalidTransition(string(from), string(to))
	case from == StatusExonerated && (to == StatusPending || to == StatusPaid):
		return ReverseExoneration(inv, to, by, at)
	}

	if !CanTransition(from, to) {
		return Transition{}, apperr.InvalidTransition(string(from), string(to))
	}

	t := Transition{From: from, To: to}
	if to == StatusPaid {
		settled := inv.PendingAmount
		inv.PaidAmount = inv.TotalAmount
		inv.PendingAmount = decimal.Zero
		t.Amount = &settled
	}
	inv.Status = to
	return t, nil
}
