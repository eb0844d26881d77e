package billing

import (
	"context"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	// Create inserts the invoice and its items.
	Create(ctx context.Context, inv *Invoice) error
	// GetByID loads the invoice with its items and latest exoneration.
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate is GetByID holding a row lock until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// UpdateState persists status, paid and pending amounts.
	UpdateState(ctx context.Context, inv *Invoice) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Invoice, int, error)
	// NextNumber allocates the next sequence value for year.
	NextNumber(ctx context.Context, year int) (int64, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}

type HistoryRepository interface {
	Create(ctx context.Context, h *StatusHistory) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*StatusHistory, error)
}

type ExonerationRepository interface {
	Create(ctx context.Context, e *Exoneration) error
	// MarkReversed stores ReversedAt, ReversedBy and ReversalStatus.
	MarkReversed(ctx context.Context, e *Exoneration) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Exoneration, error)
}
