package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinica/clinic/pkg/apperr"
)

// ExonerationInput is the authorization metadata for an exoneration.
type ExonerationInput struct {
	Reason            string  `json:"reason"`
	AuthorizationCode *string `json:"authorization_code,omitempty"`
	Notes             *string `json:"notes,omitempty"`
}

// Exonerate waives the full invoice total. The invoice is treated as
// settled: PaidAmount becomes the total and nothing stays pending. The
// amount paid before exoneration is kept on the record so a reversal to
// PENDING can restore it.
func Exonerate(inv *Invoice, in ExonerationInput, by string, at time.Time) (*Exoneration, Transition, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, Transition{}, apperr.New(apperr.TypeMissingReason, "exoneration reason is required")
	}
	switch inv.Status {
	case StatusExonerated:
		return nil, Transition{}, apperr.New(apperr.TypeAlreadyExonerated,
			"invoice %s is already exonerated; reverse it first", inv.Number)
	case StatusCancelled:
		return nil, Transition{}, apperr.InvalidTransition(string(inv.Status), string(StatusExonerated))
	}
	if inv.TotalAmount.IsZero() {
		return nil, Transition{}, apperr.New(apperr.TypeInvalidTransition,
			"invoice %s has a zero total and nothing to waive; fully covered invoices are settled as PAID and cannot be exonerated", inv.Number)
	}

	ex := &Exoneration{
		ID:                 uuid.New(),
		InvoiceID:          inv.ID,
		Reason:             reason,
		AuthorizationCode:  trimmed(in.AuthorizationCode),
		Notes:              trimmed(in.Notes),
		OriginalAmount:     inv.TotalAmount,
		ExoneratedAmount:   inv.TotalAmount,
		PreviousPaidAmount: inv.PaidAmount,
		ExoneratedBy:       by,
		ExoneratedAt:       at,
	}

	from := inv.Status
	waived := inv.PendingAmount
	inv.Status = StatusExonerated
	inv.PaidAmount = inv.TotalAmount
	inv.PendingAmount = decimal.Zero
	inv.Exoneration = ex
	return ex, Transition{From: from, To: StatusExonerated, Amount: &waived}, nil
}

// ReverseExoneration moves an exonerated invoice back to PENDING, restoring
// what had been paid, or to PAID. The exoneration record is kept and stamped.
func ReverseExoneration(inv *Invoice, to Status, by string, at time.Time) (Transition, error) {
	if inv.Status != StatusExonerated {
		return Transition{}, apperr.New(apperr.TypeInvalidTransition,
			"invoice %s is not exonerated (status %s)", inv.Number, inv.Status)
	}
	if to != StatusPending && to != StatusPaid {
		return Transition{}, apperr.InvalidTransition(string(inv.Status), string(to))
	}
	ex := inv.Exoneration
	if !ex.Active() {
		return Transition{}, apperr.Internal("reverse exoneration",
			apperr.New(apperr.TypeConflict, "invoice %s has no active exoneration record", inv.Number))
	}

	switch to {
	case StatusPending:
		inv.PaidAmount = ex.PreviousPaidAmount
		inv.PendingAmount = inv.TotalAmount.Sub(inv.PaidAmount)
		if inv.PendingAmount.IsZero() {
			to = StatusPaid
		}
	case StatusPaid:
		inv.PaidAmount = inv.TotalAmount
		inv.PendingAmount = decimal.Zero
	}

	reversedAt := at
	reversedBy := by
	reversal := to
	ex.ReversedAt = &reversedAt
	ex.ReversedBy = &reversedBy
	ex.ReversalStatus = &reversal

	t := Transition{From: StatusExonerated, To: to}
	inv.Status = to
	return t, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
