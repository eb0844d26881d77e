package billing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinica/clinic/internal/domain/catalog"
	"github.com/clinica/clinic/internal/domain/insurance"
	"github.com/clinica/clinic/internal/platform/lock"
	"github.com/clinica/clinic/pkg/apperr"
)

// -- mocks --

type mockTxRunner struct{ calls int }

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

type mockInvoiceRepo struct {
	mu       sync.Mutex
	store    map[uuid.UUID]*Invoice
	counters map[int]int64
	failOn   string
}

func newMockInvoiceRepo() *mockInvoiceRepo {
	return &mockInvoiceRepo{store: make(map[uuid.UUID]*Invoice), counters: make(map[int]int64)}
}

func cloneInvoice(inv *Invoice) *Invoice {
	c := *inv
	c.Items = append([]InvoiceItem(nil), inv.Items...)
	if inv.Exoneration != nil {
		ex := *inv.Exoneration
		c.Exoneration = &ex
	}
	return &c
}

func (m *mockInvoiceRepo) Create(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.ID = uuid.New()
	inv.CreatedAt = testNow
	inv.UpdatedAt = testNow
	for i := range inv.Items {
		inv.Items[i].ID = uuid.New()
		inv.Items[i].InvoiceID = inv.ID
	}
	m.store[inv.ID] = cloneInvoice(inv)
	return nil
}

func (m *mockInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("invoice")
	}
	return cloneInvoice(inv), nil
}

func (m *mockInvoiceRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *mockInvoiceRepo) UpdateState(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "update" {
		return errors.New("update failed")
	}
	cur, ok := m.store[inv.ID]
	if !ok {
		return apperr.NotFound("invoice")
	}
	cur.Status = inv.Status
	cur.PaidAmount = inv.PaidAmount
	cur.PendingAmount = inv.PendingAmount
	return nil
}

func (m *mockInvoiceRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return apperr.NotFound("invoice")
	}
	delete(m.store, id)
	return nil
}

func (m *mockInvoiceRepo) Search(_ context.Context, params SearchParams, limit, offset int) ([]*Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Invoice
	for _, inv := range m.store {
		if params.Status != "" && inv.Status != params.Status {
			continue
		}
		if params.PatientID != nil && inv.PatientID != *params.PatientID {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, len(out), nil
}

func (m *mockInvoiceRepo) NextNumber(_ context.Context, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[year]++
	return m.counters[year], nil
}

// mockExonerationRepo keeps records and mirrors them onto the invoice store,
// the way the SQL repository joins the latest record on read.
type mockExonerationRepo struct {
	invoices *mockInvoiceRepo
	records  []*Exoneration
}

func (m *mockExonerationRepo) Create(_ context.Context, e *Exoneration) error {
	c := *e
	m.records = append(m.records, &c)
	m.invoices.mu.Lock()
	defer m.invoices.mu.Unlock()
	if inv, ok := m.invoices.store[e.InvoiceID]; ok {
		ex := c
		inv.Exoneration = &ex
	}
	return nil
}

func (m *mockExonerationRepo) MarkReversed(_ context.Context, e *Exoneration) error {
	for _, r := range m.records {
		if r.ID == e.ID && r.ReversedAt == nil {
			r.ReversedAt, r.ReversedBy, r.ReversalStatus = e.ReversedAt, e.ReversedBy, e.ReversalStatus
			m.invoices.mu.Lock()
			if inv, ok := m.invoices.store[e.InvoiceID]; ok {
				ex := *r
				inv.Exoneration = &ex
			}
			m.invoices.mu.Unlock()
			return nil
		}
	}
	return apperr.NotFound("active exoneration")
}

func (m *mockExonerationRepo) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*Exoneration, error) {
	var out []*Exoneration
	for _, r := range m.records {
		if r.InvoiceID == invoiceID {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockPaymentRepo struct{ items []*Payment }

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	p.ID = uuid.New()
	p.CreatedAt = testNow
	m.items = append(m.items, p)
	return nil
}

func (m *mockPaymentRepo) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	var out []*Payment
	for _, p := range m.items {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockHistoryRepo struct{ items []*StatusHistory }

func (m *mockHistoryRepo) Create(_ context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	h.ChangedAt = testNow
	m.items = append(m.items, h)
	return nil
}

func (m *mockHistoryRepo) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*StatusHistory, error) {
	var out []*StatusHistory
	for _, h := range m.items {
		if h.InvoiceID == invoiceID {
			out = append(out, h)
		}
	}
	return out, nil
}

type mockPatients struct {
	policies map[uuid.UUID]*uuid.UUID
	inactive map[uuid.UUID]bool
}

func (m *mockPatients) ActivePolicyID(_ context.Context, id uuid.UUID) (*uuid.UUID, error) {
	if m.inactive[id] {
		return nil, apperr.Validation("patient is inactive")
	}
	p, ok := m.policies[id]
	if !ok {
		return nil, apperr.NotFound("patient")
	}
	return p, nil
}

type mockCatalog struct {
	services map[uuid.UUID]insurance.ServiceLine
}

func (m *mockCatalog) BuildLines(_ context.Context, items []catalog.LineInput) ([]insurance.ServiceLine, error) {
	out := make([]insurance.ServiceLine, 0, len(items))
	for _, it := range items {
		l, ok := m.services[it.ServiceID]
		if !ok {
			return nil, apperr.InvalidServiceLine("service %s not found", it.ServiceID)
		}
		l.Quantity = it.Quantity
		out = append(out, l)
	}
	return out, nil
}

type mockCoverage struct {
	policies map[uuid.UUID]*insurance.Policy
}

func (m *mockCoverage) GetPolicy(_ context.Context, id uuid.UUID) (*insurance.Policy, error) {
	p, ok := m.policies[id]
	if !ok {
		return nil, apperr.NotFound("insurance policy")
	}
	return p, nil
}

func (m *mockCoverage) CalculateForPatient(_ context.Context, id *uuid.UUID, lines []insurance.ServiceLine) (*insurance.Calculation, error) {
	if id == nil {
		return insurance.Calculate(nil, lines)
	}
	p, ok := m.policies[*id]
	if !ok {
		return nil, apperr.New(apperr.TypeUnknownPolicy, "unknown policy")
	}
	return insurance.Calculate(p, lines)
}

// -- fixture --

type fixture struct {
	svc          *Service
	tx           *mockTxRunner
	invoices     *mockInvoiceRepo
	payments     *mockPaymentRepo
	history      *mockHistoryRepo
	exonerations *mockExonerationRepo

	insured, uninsured uuid.UUID
	consultation, lab  uuid.UUID
	policyID           uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		tx:           &mockTxRunner{},
		invoices:     newMockInvoiceRepo(),
		payments:     &mockPaymentRepo{},
		history:      &mockHistoryRepo{},
		insured:      uuid.New(),
		uninsured:    uuid.New(),
		consultation: uuid.New(),
		lab:          uuid.New(),
		policyID:     uuid.New(),
	}
	f.exonerations = &mockExonerationRepo{invoices: f.invoices}

	consultationID := f.consultation
	policy := &insurance.Policy{
		ID: f.policyID, Code: "SEG-01", Name: "Seguro Plus", Active: true,
		Rules: []insurance.CoverageRule{{ServiceID: &consultationID, Percent: d("80")}},
	}
	patients := &mockPatients{
		policies: map[uuid.UUID]*uuid.UUID{f.insured: &f.policyID, f.uninsured: nil},
		inactive: map[uuid.UUID]bool{},
	}
	cat := &mockCatalog{services: map[uuid.UUID]insurance.ServiceLine{
		f.consultation: {ServiceID: f.consultation, Description: "Consultation", Category: "consultation", UnitPrice: d("100")},
		f.lab:          {ServiceID: f.lab, Description: "Lab Test", Category: "lab", UnitPrice: d("50")},
	}}
	cov := &mockCoverage{policies: map[uuid.UUID]*insurance.Policy{f.policyID: policy}}

	f.svc = NewService(f.tx, lock.NewMemoryLocker(), f.invoices, f.payments, f.history, f.exonerations,
		patients, cat, cov, Options{}, zerolog.Nop())
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) items() []catalog.LineInput {
	return []catalog.LineInput{
		{ServiceID: f.consultation, Quantity: 1},
		{ServiceID: f.lab, Quantity: 1},
	}
}

func (f *fixture) create(t *testing.T, applyInsurance bool) *Invoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		PatientID:      f.insured,
		Items:          f.items(),
		ApplyInsurance: applyInsurance,
	}, "cashier")
	require.NoError(t, err)
	return inv
}

// -- tests --

func TestService_PreviewCoverage(t *testing.T) {
	f := newFixture(t)
	calc, err := f.svc.PreviewCoverage(context.Background(), f.insured, f.items())
	require.NoError(t, err)
	assert.True(t, calc.TotalBaseAmount.Equal(d("150")))
	assert.True(t, calc.TotalInsuranceCovers.Equal(d("80")))
	assert.True(t, calc.TotalPatientPays.Equal(d("70")))
	assert.Empty(t, f.invoices.store, "preview must not persist anything")
}

func TestService_PreviewCoverage_NoInsurance(t *testing.T) {
	f := newFixture(t)
	calc, err := f.svc.PreviewCoverage(context.Background(), f.uninsured, f.items())
	require.NoError(t, err)
	assert.Nil(t, calc.PolicyID)
	assert.True(t, calc.TotalPatientPays.Equal(d("150")))
}

func TestService_CreateInvoice_WithInsurance(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, true)

	assert.Equal(t, "FAC-2024-000001", inv.Number)
	assert.Equal(t, StatusPending, inv.Status)
	assert.True(t, inv.InsuranceApplied)
	require.NotNil(t, inv.InsurancePolicyID)
	assert.Equal(t, f.policyID, *inv.InsurancePolicyID)
	assert.True(t, inv.SubtotalAmount.Equal(d("150")))
	assert.True(t, inv.InsuranceAmount.Equal(d("80")))
	assert.True(t, inv.TotalAmount.Equal(d("70")))
	assert.True(t, inv.PendingAmount.Equal(d("70")))
	assert.True(t, inv.PaidAmount.IsZero())
	require.Len(t, inv.Items, 2)
	assert.True(t, inv.Items[0].InsuranceCovers.Equal(d("80")))
	assert.True(t, inv.Items[1].PatientPays.Equal(d("50")))
	assert.Equal(t, 1, f.tx.calls)

	require.Len(t, f.history.items, 1)
	assert.Nil(t, f.history.items[0].FromStatus)
	assert.Equal(t, StatusPending, f.history.items[0].ToStatus)
}

func TestService_CreateInvoice_WithoutInsurance(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, false)
	assert.False(t, inv.InsuranceApplied)
	assert.Nil(t, inv.Coverage)
	assert.True(t, inv.TotalAmount.Equal(d("150")))
	assert.True(t, inv.InsuranceAmount.IsZero())
}

func TestService_CreateInvoice_SequentialNumbers(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, false)
	b := f.create(t, false)
	assert.Equal(t, "FAC-2024-000001", a.Number)
	assert.Equal(t, "FAC-2024-000002", b.Number)
}

func TestService_CreateInvoice_InitialPayment(t *testing.T) {
	f := newFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		PatientID:      f.insured,
		Items:          f.items(),
		ApplyInsurance: true,
		InitialPayment: &PaymentInput{Amount: d("70"), Method: "cash"},
	}, "cashier")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, inv.Status)
	assert.True(t, inv.PendingAmount.IsZero())
	require.Len(t, f.payments.items, 1)
	assert.Len(t, f.history.items, 2)
}

func TestService_CreateInvoice_FullyCoveredStartsPaid(t *testing.T) {
	f := newFixture(t)
	inv, err := f.svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		PatientID:      f.insured,
		Items:          []catalog.LineInput{{ServiceID: f.consultation, Quantity: 1}},
		ApplyInsurance: true,
	}, "cashier")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, inv.Status, "80 percent coverage still leaves 20 to pay")

	f.svc.coverage.(*mockCoverage).policies[f.policyID].Rules[0].Percent = d("100")
	inv, err = f.svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		PatientID:      f.insured,
		Items:          []catalog.LineInput{{ServiceID: f.consultation, Quantity: 1}},
		ApplyInsurance: true,
	}, "cashier")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, inv.Status)
	assert.Nil(t, inv.Exoneration, "full coverage is not an exoneration")
}

func TestService_CreateInvoice_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateInvoice(ctx, CreateInvoiceRequest{PatientID: f.insured}, "cashier")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceRequest{PatientID: uuid.New(), Items: f.items()}, "cashier")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceRequest{
		PatientID: f.insured, Items: []catalog.LineInput{{ServiceID: uuid.New(), Quantity: 1}},
	}, "cashier")
	assert.True(t, errors.Is(err, apperr.ErrInvalidServiceLine))

	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceRequest{
		PatientID: f.insured, Items: f.items(), InitialPayment: &PaymentInput{Amount: d("10"), Method: "bitcoin"},
	}, "cashier")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.CreateInvoice(ctx, CreateInvoiceRequest{
		PatientID: f.insured, Items: f.items(), InitialPayment: &PaymentInput{Amount: d("200"), Method: "cash"},
	}, "cashier")
	assert.True(t, errors.Is(err, apperr.ErrInvalidPaymentAmount))

	assert.Empty(t, f.payments.items)
}

func TestService_RegisterPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, true)

	got, err := f.svc.RegisterPayment(ctx, inv.ID, PaymentInput{Amount: d("30"), Method: "card"}, "cashier")
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, got.Status)
	assert.True(t, got.PendingAmount.Equal(d("40")))

	got, err = f.svc.RegisterPayment(ctx, inv.ID, PaymentInput{Amount: d("40"), Method: "cash"}, "cashier")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	assert.True(t, got.PendingAmount.IsZero())

	stored, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, stored.Status)
	assert.True(t, stored.Reconciles())

	payments, err := f.svc.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)

	history, err := f.svc.StatusHistory(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, StatusPartial, history[1].ToStatus)
	assert.Equal(t, StatusPaid, history[2].ToStatus)
}

func TestService_RegisterPayment_Overpayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, true)

	_, err := f.svc.RegisterPayment(ctx, inv.ID, PaymentInput{Amount: d("70.01"), Method: "cash"}, "cashier")
	assert.True(t, errors.Is(err, apperr.ErrInvalidPaymentAmount))

	stored, _ := f.invoices.GetByID(ctx, inv.ID)
	assert.Equal(t, StatusPending, stored.Status)
	assert.True(t, stored.PendingAmount.Equal(d("70")))
	assert.Empty(t, f.payments.items)
}

func TestService_RegisterPayment_SubCent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, true)

	_, err := f.svc.RegisterPayment(ctx, inv.ID, PaymentInput{Amount: d("10.005"), Method: "cash"}, "cashier")
	assert.True(t, errors.Is(err, apperr.ErrInvalidPaymentAmount))

	stored, _ := f.invoices.GetByID(ctx, inv.ID)
	assert.Equal(t, StatusPending, stored.Status)
	assert.True(t, stored.PendingAmount.Equal(d("70")))
	assert.Empty(t, f.payments.items)
}

func TestService_RegisterPayment_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RegisterPayment(context.Background(), uuid.New(), PaymentInput{Amount: d("1"), Method: "cash"}, "cashier")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestService_RegisterPayment_LockBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, true)
	f.svc.opts.LockWait = 20 * time.Millisecond

	_, ok, err := f.svc.locker.TryLock(ctx, "invoice:"+inv.ID.String(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.RegisterPayment(ctx, inv.ID, PaymentInput{Amount: d("10"), Method: "cash"}, "cashier")
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestService_ConcurrentPaymentsNeverOverpay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, true)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RegisterPayment(ctx, inv.ID, PaymentInput{Amount: d("10"), Method: "cash"}, "cashier")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.True(t, errors.Is(err, apperr.ErrInvalidTransition) || errors.Is(err, apperr.ErrInvalidPaymentAmount), err)
			rejected++
		}
	}
	assert.Equal(t, 7, ok)
	assert.Equal(t, 3, rejected)

	stored, _ := f.invoices.GetByID(ctx, inv.ID)
	assert.Equal(t, StatusPaid, stored.Status)
	assert.True(t, stored.PaidAmount.Equal(d("70")))
}

func TestService_ChangeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, true)

	got, err := f.svc.ChangeStatus(ctx, inv.ID, StatusCancelled, strPtr(" duplicate "), "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	last := f.history.items[len(f.history.items)-1]
	require.NotNil(t, last.Reason)
	assert.Equal(t, "duplicate", *last.Reason)

	_, err = f.svc.ChangeStatus(ctx, inv.ID, StatusPaid, nil, "admin")
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
}

func TestService_ExonerateAndReverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, true)

	_, err := f.svc.RegisterPayment(ctx, inv.ID, PaymentInput{Amount: d("20"), Method: "cash"}, "cashier")
	require.NoError(t, err)

	got, err := f.svc.Exonerate(ctx, inv.ID, ExonerationInput{Reason: "social case"}, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, StatusExonerated, got.Status)
	assert.True(t, got.PendingAmount.IsZero())
	require.NotNil(t, got.Exoneration)
	assert.True(t, got.Exoneration.ExoneratedAmount.Equal(d("70")))

	stored, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DisplayedInsurance(), "exoneration hides the insurance breakdown")
	require.NotNil(t, stored.Coverage)
	assert.Equal(t, "Seguro Plus", stored.Coverage.PolicyName)

	_, err = f.svc.Exonerate(ctx, inv.ID, ExonerationInput{Reason: "again"}, "supervisor")
	assert.True(t, errors.Is(err, apperr.ErrAlreadyExonerated))

	got, err = f.svc.ReverseExoneration(ctx, inv.ID, StatusPending, strPtr("authorization withdrawn"), "supervisor")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.True(t, got.PaidAmount.Equal(d("20")))
	assert.True(t, got.PendingAmount.Equal(d("50")))

	records, err := f.svc.ListExonerations(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotNil(t, records[0].ReversedAt)
	require.NotNil(t, records[0].ReversalStatus)
	assert.Equal(t, StatusPending, *records[0].ReversalStatus)

	stored, err = f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.DisplayedInsurance())
}

func TestService_ChangeStatusFromExoneratedReverses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, true)

	_, err := f.svc.Exonerate(ctx, inv.ID, ExonerationInput{Reason: "staff"}, "supervisor")
	require.NoError(t, err)

	got, err := f.svc.ChangeStatus(ctx, inv.ID, StatusPaid, nil, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	require.Len(t, f.exonerations.records, 1)
	assert.NotNil(t, f.exonerations.records[0].ReversedAt)
}

func TestService_Exonerate_MissingReason(t *testing.T) {
	f := newFixture(t)
	inv := f.create(t, true)
	_, err := f.svc.Exonerate(context.Background(), inv.ID, ExonerationInput{Reason: "   "}, "supervisor")
	assert.True(t, errors.Is(err, apperr.ErrMissingReason))
	assert.Empty(t, f.exonerations.records)
}

func TestService_FailedWriteLeavesInvoiceUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, true)
	f.invoices.failOn = "update"

	_, err := f.svc.RegisterPayment(ctx, inv.ID, PaymentInput{Amount: d("10"), Method: "cash"}, "cashier")
	require.Error(t, err)

	f.invoices.failOn = ""
	stored, _ := f.invoices.GetByID(ctx, inv.ID)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestService_SearchInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, true)
	f.create(t, false)
	_, err := f.svc.RegisterPayment(ctx, a.ID, PaymentInput{Amount: d("70"), Method: "cash"}, "cashier")
	require.NoError(t, err)

	items, total, err := f.svc.SearchInvoices(ctx, SearchParams{Status: StatusPaid}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, a.ID, items[0].ID)

	_, _, err = f.svc.SearchInvoices(ctx, SearchParams{Status: "VOID"}, 20, 0)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestService_DeleteInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.create(t, false)

	require.NoError(t, f.svc.DeleteInvoice(ctx, inv.ID, "admin"))
	_, err := f.svc.GetInvoice(ctx, inv.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.True(t, errors.Is(f.svc.DeleteInvoice(ctx, inv.ID, "admin"), apperr.ErrNotFound))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "FAC-2024-000042", FormatNumber("fac", 2024, 42))
	assert.Equal(t, "INV-2025-1234567", FormatNumber("INV", 2025, 1234567))
}

func TestBuildInvoice_ReconcilesWithCalculation(t *testing.T) {
	lines := []insurance.ServiceLine{
		{ServiceID: uuid.New(), Quantity: 3, UnitPrice: d("10.01")},
		{ServiceID: uuid.New(), Quantity: 1, UnitPrice: d("0.99")},
	}
	pct := d("33.33")
	calc, err := insurance.Calculate(&insurance.Policy{ID: uuid.New(), DefaultPercent: &pct}, lines)
	require.NoError(t, err)

	inv := buildInvoice(uuid.New(), lines, calc)
	sum := decimal.Zero
	for _, it := range inv.Items {
		assert.True(t, it.InsuranceCovers.Add(it.PatientPays).Equal(it.LineTotal))
		sum = sum.Add(it.PatientPays)
	}
	assert.True(t, sum.Equal(inv.TotalAmount))
	assert.True(t, inv.SubtotalAmount.Equal(inv.InsuranceAmount.Add(inv.TotalAmount)))
}
