package catalog

import (
	"context"

	"github.com/google/uuid"
)

type ServiceRepository interface {
	Create(ctx context.Context, s *MedicalService) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalService, error)
	GetByCode(ctx context.Context, code string) (*MedicalService, error)
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*MedicalService, error)
	Update(ctx context.Context, s *MedicalService) error
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*MedicalService, int, error)
}
