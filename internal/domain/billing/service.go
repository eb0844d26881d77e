package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinica/clinic/internal/domain/catalog"
	"github.com/clinica/clinic/internal/domain/insurance"
	"github.com/clinica/clinic/internal/platform/db"
	"github.com/clinica/clinic/internal/platform/lock"
	"github.com/clinica/clinic/pkg/apperr"
	"github.com/clinica/clinic/pkg/money"
)

// PatientLookup resolves the insurance policy on a patient record.
type PatientLookup interface {
	ActivePolicyID(ctx context.Context, patientID uuid.UUID) (*uuid.UUID, error)
}

// LineBuilder prices requested services from the catalog.
type LineBuilder interface {
	BuildLines(ctx context.Context, items []catalog.LineInput) ([]insurance.ServiceLine, error)
}

// CoverageCalculator runs the insurance calculation for a policy.
type CoverageCalculator interface {
	CalculateForPatient(ctx context.Context, policyID *uuid.UUID, lines []insurance.ServiceLine) (*insurance.Calculation, error)
	GetPolicy(ctx context.Context, id uuid.UUID) (*insurance.Policy, error)
}

type Options struct {
	NumberPrefix string
	Currency     string
	LockTTL      time.Duration
	LockWait     time.Duration
}

func (o *Options) defaults() {
	if o.NumberPrefix == "" {
		o.NumberPrefix = "FAC"
	}
	if o.Currency == "" {
		o.Currency = "USD"
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 10 * time.Second
	}
	if o.LockWait <= 0 {
		o.LockWait = 3 * time.Second
	}
}

type Service struct {
	tx           db.TxRunner
	locker       lock.Locker
	invoices     InvoiceRepository
	payments     PaymentRepository
	history      HistoryRepository
	exonerations ExonerationRepository
	patients     PatientLookup
	lines        LineBuilder
	coverage     CoverageCalculator
	opts         Options
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(
	tx db.TxRunner,
	locker lock.Locker,
	invoices InvoiceRepository,
	payments PaymentRepository,
	history HistoryRepository,
	exonerations ExonerationRepository,
	patients PatientLookup,
	lines LineBuilder,
	coverage CoverageCalculator,
	opts Options,
	logger zerolog.Logger,
) *Service {
	opts.defaults()
	return &Service{
		tx:           tx,
		locker:       locker,
		invoices:     invoices,
		payments:     payments,
		history:      history,
		exonerations: exonerations,
		patients:     patients,
		lines:        lines,
		coverage:     coverage,
		opts:         opts,
		logger:       logger.With().Str("component", "billing").Logger(),
		now:          time.Now,
	}
}

// PaymentInput is a payment as received at the desk.
type PaymentInput struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required,oneof=cash card transfer check other"`
	Reference *string         `json:"reference,omitempty" validate:"omitempty,max=100"`
}

func (p PaymentInput) validate() error {
	if !validPaymentMethods[p.Method] {
		return apperr.Validation("invalid payment method: %s", p.Method)
	}
	if !money.HasMinorPrecision(p.Amount) {
		return apperr.InvalidPaymentAmount("payment amount %s has more than two decimal places", p.Amount)
	}
	return nil
}

type CreateInvoiceRequest struct {
	PatientID      uuid.UUID           `json:"patient_id" validate:"required"`
	Items          []catalog.LineInput `json:"items" validate:"required,min=1,dive"`
	ApplyInsurance bool                `json:"apply_insurance"`
	InitialPayment *PaymentInput       `json:"initial_payment,omitempty" validate:"omitempty"`
	Notes          *string             `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// PreviewCoverage prices items for a patient and returns the coverage
// breakdown without creating anything.
func (s *Service) PreviewCoverage(ctx context.Context, patientID uuid.UUID, items []catalog.LineInput) (*insurance.Calculation, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("at least one service is required")
	}
	policyID, err := s.patients.ActivePolicyID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	lines, err := s.lines.BuildLines(ctx, items)
	if err != nil {
		return nil, err
	}
	return s.coverage.CalculateForPatient(ctx, policyID, lines)
}

// CreateInvoice prices the request, applies coverage when asked, allocates
// the next invoice number and stores everything in one transaction.
func (s *Service) CreateInvoice(ctx context.Context, req CreateInvoiceRequest, by string) (*Invoice, error) {
	if len(req.Items) == 0 {
		return nil, apperr.Validation("at least one service is required")
	}
	if req.InitialPayment != nil {
		if err := req.InitialPayment.validate(); err != nil {
			return nil, err
		}
	}

	policyID, err := s.patients.ActivePolicyID(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	lines, err := s.lines.BuildLines(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	var calc *insurance.Calculation
	if req.ApplyInsurance {
		calc, err = s.coverage.CalculateForPatient(ctx, policyID, lines)
		if err != nil {
			return nil, err
		}
	}

	inv := buildInvoice(req.PatientID, lines, calc)
	inv.Currency = s.opts.Currency
	inv.Notes = trimmed(req.Notes)
	inv.CreatedBy = by

	var payment *Transition
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		year := s.now().Year()
		seq, err := s.invoices.NextNumber(ctx, year)
		if err != nil {
			return fmt.Errorf("allocate invoice number: %w", err)
		}
		inv.Number = FormatNumber(s.opts.NumberPrefix, year, seq)
		if err := s.invoices.Create(ctx, inv); err != nil {
			return err
		}
		total := inv.TotalAmount
		if err := s.history.Create(ctx, &StatusHistory{
			InvoiceID: inv.ID,
			ToStatus:  inv.Status,
			Amount:    &total,
			ChangedBy: by,
		}); err != nil {
			return err
		}

		if req.InitialPayment == nil {
			return nil
		}
		t, err := s.applyPayment(ctx, inv, *req.InitialPayment, by)
		if err != nil {
			return err
		}
		payment = &t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Str("invoice_number", inv.Number).
		Str("status", string(inv.Status)).
		Str("total", inv.TotalAmount.StringFixed(2)).
		Bool("insurance_applied", inv.InsuranceApplied).
		Str("by", by).
		Msg("invoice created")
	if payment != nil {
		s.logTransition(inv, *payment, by)
	}
	inv.Coverage = calc
	return inv, nil
}

// buildInvoice freezes the priced lines and their coverage split into a new invoice.
func buildInvoice(patientID uuid.UUID, lines []insurance.ServiceLine, calc *insurance.Calculation) *Invoice {
	inv := &Invoice{
		PatientID:       patientID,
		SubtotalAmount:  decimal.Zero,
		InsuranceAmount: decimal.Zero,
		Items:           make([]InvoiceItem, 0, len(lines)),
	}
	for i, l := range lines {
		base := l.TotalPrice()
		item := InvoiceItem{
			LineNo:          i + 1,
			ServiceID:       l.ServiceID,
			Description:     l.Description,
			Category:        l.Category,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			LineTotal:       base,
			CoveragePercent: decimal.Zero,
			InsuranceCovers: decimal.Zero,
			PatientPays:     base,
		}
		if calc != nil {
			res := calc.Lines[i]
			item.CoveragePercent = res.CoveragePercent
			item.InsuranceCovers = res.InsuranceCovers
			item.PatientPays = res.PatientPays
		}
		inv.Items = append(inv.Items, item)
		inv.SubtotalAmount = inv.SubtotalAmount.Add(base)
	}
	if calc != nil {
		inv.InsuranceApplied = true
		inv.InsurancePolicyID = calc.PolicyID
		inv.InsuranceAmount = calc.TotalInsuranceCovers
	}

	inv.TotalAmount = CreateInvoiceTotals(lines, calc).TotalAmount
	inv.PaidAmount = decimal.Zero
	inv.PendingAmount = inv.TotalAmount
	inv.Status = InitialStatus(inv.TotalAmount)
	if inv.Status == StatusPaid {
		inv.PendingAmount = decimal.Zero
	}
	return inv
}

// mutate runs fn against the locked invoice and persists the state it leaves.
// The per-invoice lock serializes writers across replicas; the row lock
// covers writers that bypass it.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, inv *Invoice) error) (*Invoice, error) {
	if s.locker != nil {
		release, err := lock.Acquire(ctx, s.locker, "invoice:"+id.String(), s.opts.LockTTL, s.opts.LockWait)
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, apperr.New(apperr.TypeConflict, "invoice %s is being modified, retry", id)
		}
		if err != nil {
			return nil, apperr.Internal("acquire invoice lock", err)
		}
		defer release()
	}

	var inv *Invoice
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// record persists the new state and its history row.
func (s *Service) record(ctx context.Context, inv *Invoice, t Transition, reason *string, by string) error {
	if err := s.invoices.UpdateState(ctx, inv); err != nil {
		return err
	}
	from := t.From
	return s.history.Create(ctx, &StatusHistory{
		InvoiceID:  inv.ID,
		FromStatus: &from,
		ToStatus:   t.To,
		Amount:     t.Amount,
		Reason:     reason,
		ChangedBy:  by,
	})
}

func (s *Service) applyPayment(ctx context.Context, inv *Invoice, in PaymentInput, by string) (Transition, error) {
	t, err := RegisterPayment(inv, in.Amount)
	if err != nil {
		return Transition{}, err
	}
	if err := s.payments.Create(ctx, &Payment{
		InvoiceID:  inv.ID,
		Amount:     *t.Amount,
		Method:     in.Method,
		Reference:  trimmed(in.Reference),
		ReceivedBy: by,
	}); err != nil {
		return Transition{}, err
	}
	return t, s.record(ctx, inv, t, nil, by)
}

func (s *Service) logTransition(inv *Invoice, t Transition, by string) {
	evt := s.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Str("invoice_number", inv.Number).
		Str("from", string(t.From)).
		Str("to", string(t.To)).
		Str("by", by)
	if t.Amount != nil {
		evt = evt.Str("amount", t.Amount.StringFixed(2))
	}
	evt.Msg("invoice status changed")
}

// RegisterPayment records a payment against a PENDING or PARTIAL invoice.
func (s *Service) RegisterPayment(ctx context.Context, id uuid.UUID, in PaymentInput, by string) (*Invoice, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var t Transition
	inv, err := s.mutate(ctx, id, func(ctx context.Context, inv *Invoice) error {
		var err error
		t, err = s.applyPayment(ctx, inv, in, by)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(inv, t, by)
	return inv, nil
}

// ChangeStatus applies a manual status change. Leaving EXONERATED through
// here reverses the exoneration.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to Status, reason *string, by string) (*Invoice, error) {
	var t Transition
	inv, err := s.mutate(ctx, id, func(ctx context.Context, inv *Invoice) error {
		wasExonerated := inv.Exoneration.Active()
		var err error
		t, err = ChangeStatus(inv, to, by, s.now())
		if err != nil {
			return err
		}
		if wasExonerated && !inv.Exoneration.Active() {
			if err := s.exonerations.MarkReversed(ctx, inv.Exoneration); err != nil {
				return err
			}
		}
		return s.record(ctx, inv, t, trimmed(reason), by)
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(inv, t, by)
	return inv, nil
}

// Exonerate waives the invoice. The reason is mandatory.
func (s *Service) Exonerate(ctx context.Context, id uuid.UUID, in ExonerationInput, by string) (*Invoice, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, apperr.New(apperr.TypeMissingReason, "exoneration reason is required")
	}
	var t Transition
	inv, err := s.mutate(ctx, id, func(ctx context.Context, inv *Invoice) error {
		ex, tr, err := Exonerate(inv, in, by, s.now())
		if err != nil {
			return err
		}
		t = tr
		if err := s.exonerations.Create(ctx, ex); err != nil {
			return err
		}
		return s.record(ctx, inv, t, &ex.Reason, by)
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(inv, t, by)
	return inv, nil
}

// ReverseExoneration returns an exonerated invoice to PENDING or PAID.
func (s *Service) ReverseExoneration(ctx context.Context, id uuid.UUID, to Status, reason *string, by string) (*Invoice, error) {
	var t Transition
	inv, err := s.mutate(ctx, id, func(ctx context.Context, inv *Invoice) error {
		var err error
		t, err = ReverseExoneration(inv, to, by, s.now())
		if err != nil {
			return err
		}
		if err := s.exonerations.MarkReversed(ctx, inv.Exoneration); err != nil {
			return err
		}
		return s.record(ctx, inv, t, trimmed(reason), by)
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(inv, t, by)
	return inv, nil
}

// GetInvoice loads an invoice with its items, latest exoneration and the
// coverage breakdown stored on its items.
func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var policyName string
	if inv.InsurancePolicyID != nil {
		p, err := s.coverage.GetPolicy(ctx, *inv.InsurancePolicyID)
		switch {
		case err == nil:
			policyName = p.Name
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}
	inv.Coverage = CoverageFromItems(inv, policyName)
	return inv, nil
}

func (s *Service) SearchInvoices(ctx context.Context, params SearchParams, limit, offset int) ([]*Invoice, int, error) {
	if params.Status != "" && !params.Status.Valid() {
		return nil, 0, apperr.Validation("invalid invoice status: %s", params.Status)
	}
	return s.invoices.Search(ctx, params, limit, offset)
}

func (s *Service) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.payments.ListByInvoice(ctx, invoiceID)
}

func (s *Service) StatusHistory(ctx context.Context, invoiceID uuid.UUID) ([]*StatusHistory, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.history.ListByInvoice(ctx, invoiceID)
}

func (s *Service) ListExonerations(ctx context.Context, invoiceID uuid.UUID) ([]*Exoneration, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.exonerations.ListByInvoice(ctx, invoiceID)
}

// DeleteInvoice removes an invoice outside the lifecycle. Admin only.
func (s *Service) DeleteInvoice(ctx context.Context, id uuid.UUID, by string) error {
	if err := s.invoices.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Warn().Str("invoice_id", id.String()).Str("by", by).Msg("invoice deleted")
	return nil
}
