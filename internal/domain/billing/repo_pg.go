package billing

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinica/clinic/internal/platform/db"
	"github.com/clinica/clinic/pkg/apperr"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

var dialect = goqu.Dialect("postgres")

// -- Invoice --

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

var invoiceCols = []interface{}{
	"id", "invoice_number", "patient_id", "insurance_applied", "insurance_policy_id", "status",
	"subtotal_amount", "insurance_amount", "total_amount", "paid_amount", "pending_amount",
	"currency", "notes", "created_by", "created_at", "updated_at",
}

const invoiceColsSQL = `id, invoice_number, patient_id, insurance_applied, insurance_policy_id, status,
	subtotal_amount, insurance_amount, total_amount, paid_amount, pending_amount,
	currency, notes, created_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.PatientID, &inv.InsuranceApplied, &inv.InsurancePolicyID, &inv.Status,
		&inv.SubtotalAmount, &inv.InsuranceAmount, &inv.TotalAmount, &inv.PaidAmount, &inv.PendingAmount,
		&inv.Currency, &inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invoice")
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice (id, invoice_number, patient_id, insurance_applied, insurance_policy_id, status,
			subtotal_amount, insurance_amount, total_amount, paid_amount, pending_amount, currency, notes, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		inv.ID, inv.Number, inv.PatientID, inv.InsuranceApplied, inv.InsurancePolicyID, inv.Status,
		inv.SubtotalAmount, inv.InsuranceAmount, inv.TotalAmount, inv.PaidAmount, inv.PendingAmount,
		inv.Currency, inv.Notes, inv.CreatedBy).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return err
	}
	for i := range inv.Items {
		it := &inv.Items[i]
		it.ID = uuid.New()
		it.InvoiceID = inv.ID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO invoice_item (id, invoice_id, line_no, service_id, description, category, quantity,
				unit_price, line_total, coverage_percent, insurance_covers, patient_pays)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			it.ID, it.InvoiceID, it.LineNo, it.ServiceID, it.Description, it.Category, it.Quantity,
			it.UnitPrice, it.LineTotal, it.CoveragePercent, it.InsuranceCovers, it.PatientPays); err != nil {
			return err
		}
	}
	return nil
}

func (r *invoiceRepoPG) load(ctx context.Context, query string, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, inv); err != nil {
		return nil, err
	}
	if err := r.loadExoneration(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.load(ctx, `SELECT `+invoiceColsSQL+` FROM invoice WHERE id = $1`, id)
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.load(ctx, `SELECT `+invoiceColsSQL+` FROM invoice WHERE id = $1 FOR UPDATE`, id)
}

func (r *invoiceRepoPG) loadItems(ctx context.Context, inv *Invoice) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, line_no, service_id, description, category, quantity,
			unit_price, line_total, coverage_percent, insurance_covers, patient_pays
		FROM invoice_item WHERE invoice_id = $1 ORDER BY line_no`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	inv.Items = []InvoiceItem{}
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.LineNo, &it.ServiceID, &it.Description, &it.Category, &it.Quantity,
			&it.UnitPrice, &it.LineTotal, &it.CoveragePercent, &it.InsuranceCovers, &it.PatientPays); err != nil {
			return err
		}
		inv.Items = append(inv.Items, it)
	}
	return rows.Err()
}

func (r *invoiceRepoPG) loadExoneration(ctx context.Context, inv *Invoice) error {
	e, err := scanExoneration(r.conn(ctx).QueryRow(ctx, `SELECT `+exonerationCols+`
		FROM invoice_exoneration WHERE invoice_id = $1 ORDER BY exonerated_at DESC LIMIT 1`, inv.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	inv.Exoneration = e
	return nil
}

func (r *invoiceRepoPG) UpdateState(ctx context.Context, inv *Invoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE invoice SET status=$2, paid_amount=$3, pending_amount=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		inv.ID, inv.Status, inv.PaidAmount, inv.PendingAmount).Scan(&inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("invoice")
	}
	return err
}

func (r *invoiceRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoice WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("invoice")
	}
	return nil
}

// NextNumber increments the per-year counter. Inside a transaction the row
// stays locked until commit, so concurrent creators are serialized.
func (r *invoiceRepoPG) NextNumber(ctx context.Context, year int) (int64, error) {
	var seq int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice_number_counter (year, last_value) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = invoice_number_counter.last_value + 1
		RETURNING last_value`, year).Scan(&seq)
	return seq, err
}

// searchQuery builds the filtered invoice selection shared by the count and page queries.
func searchQuery(params SearchParams) *goqu.SelectDataset {
	ds := dialect.From("invoice").Prepared(true)
	if params.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(params.Status)))
	}
	if params.PatientID != nil {
		ds = ds.Where(goqu.C("patient_id").Eq(*params.PatientID))
	}
	if params.Number != "" {
		ds = ds.Where(goqu.C("invoice_number").ILike("%" + params.Number + "%"))
	}
	if params.From != nil {
		ds = ds.Where(goqu.C("created_at").Gte(*params.From))
	}
	if params.To != nil {
		ds = ds.Where(goqu.C("created_at").Lt(*params.To))
	}
	return ds
}

func (r *invoiceRepoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Invoice, int, error) {
	base := searchQuery(params)

	countSQL, countArgs, err := base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageSQL, pageArgs, err := base.Select(invoiceCols...).
		Order(goqu.C("created_at").Desc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

// -- Payment --

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice_payment (id, invoice_id, amount, method, reference, received_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		p.ID, p.InvoiceID, p.Amount, p.Method, p.Reference, p.ReceivedBy).Scan(&p.CreatedAt)
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, received_by, created_at
		FROM invoice_payment WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Reference, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

// -- Status history --

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository { return &historyRepoPG{pool: pool} }

func (r *historyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *historyRepoPG) Create(ctx context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice_status_history (id, invoice_id, from_status, to_status, amount, reason, changed_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING changed_at`,
		h.ID, h.InvoiceID, h.FromStatus, h.ToStatus, h.Amount, h.Reason, h.ChangedBy).Scan(&h.ChangedAt)
}

func (r *historyRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, from_status, to_status, amount, reason, changed_by, changed_at
		FROM invoice_status_history WHERE invoice_id = $1 ORDER BY changed_at, seq`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.InvoiceID, &h.FromStatus, &h.ToStatus, &h.Amount, &h.Reason, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}

// -- Exoneration --

type exonerationRepoPG struct{ pool *pgxpool.Pool }

func NewExonerationRepoPG(pool *pgxpool.Pool) ExonerationRepository {
	return &exonerationRepoPG{pool: pool}
}

func (r *exonerationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const exonerationCols = `id, invoice_id, reason, authorization_code, notes, original_amount, exonerated_amount,
	previous_paid_amount, exonerated_by, exonerated_at, reversed_at, reversed_by, reversal_status`

func scanExoneration(row pgx.Row) (*Exoneration, error) {
	var e Exoneration
	err := row.Scan(&e.ID, &e.InvoiceID, &e.Reason, &e.AuthorizationCode, &e.Notes, &e.OriginalAmount, &e.ExoneratedAmount,
		&e.PreviousPaidAmount, &e.ExoneratedBy, &e.ExoneratedAt, &e.ReversedAt, &e.ReversedBy, &e.ReversalStatus)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *exonerationRepoPG) Create(ctx context.Context, e *Exoneration) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice_exoneration (id, invoice_id, reason, authorization_code, notes, original_amount,
			exonerated_amount, previous_paid_amount, exonerated_by, exonerated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.InvoiceID, e.Reason, e.AuthorizationCode, e.Notes, e.OriginalAmount,
		e.ExoneratedAmount, e.PreviousPaidAmount, e.ExoneratedBy, e.ExoneratedAt)
	return err
}

func (r *exonerationRepoPG) MarkReversed(ctx context.Context, e *Exoneration) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoice_exoneration SET reversed_at=$2, reversed_by=$3, reversal_status=$4
		WHERE id = $1 AND reversed_at IS NULL`,
		e.ID, e.ReversedAt, e.ReversedBy, e.ReversalStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("active exoneration")
	}
	return nil
}

func (r *exonerationRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Exoneration, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+exonerationCols+`
		FROM invoice_exoneration WHERE invoice_id = $1 ORDER BY exonerated_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Exoneration
	for rows.Next() {
		e, err := scanExoneration(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
