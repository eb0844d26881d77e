package patient

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByDocument(ctx context.Context, documentNumber string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Patient, int, error)
}
