package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinica/clinic/internal/domain/insurance"
	"github.com/clinica/clinic/pkg/apperr"
	"github.com/clinica/clinic/pkg/money"
)

type Service struct {
	services ServiceRepository
}

func NewService(services ServiceRepository) *Service {
	return &Service{services: services}
}

func validate(s *MedicalService) error {
	s.Code = strings.TrimSpace(s.Code)
	s.Name = strings.TrimSpace(s.Name)
	s.Category = strings.ToLower(strings.TrimSpace(s.Category))
	if s.Code == "" {
		return apperr.Validation("code is required")
	}
	if s.Name == "" {
		return apperr.Validation("name is required")
	}
	if s.Category == "" {
		return apperr.Validation("category is required")
	}
	if s.BasePrice.IsNegative() {
		return apperr.Validation("base_price must not be negative")
	}
	if !money.HasMinorPrecision(s.BasePrice) {
		return apperr.Validation("base_price has more than two decimal places")
	}
	if s.DynamicPrice {
		s.BasePrice = decimal.Zero
	}
	return nil
}

func (s *Service) CreateService(ctx context.Context, ms *MedicalService) error {
	if err := validate(ms); err != nil {
		return err
	}
	existing, err := s.services.GetByCode(ctx, ms.Code)
	if err == nil && existing != nil {
		return apperr.New(apperr.TypeConflict, "service code %s already exists", ms.Code)
	}
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return s.services.Create(ctx, ms)
}

func (s *Service) GetService(ctx context.Context, id uuid.UUID) (*MedicalService, error) {
	return s.services.GetByID(ctx, id)
}

func (s *Service) UpdateService(ctx context.Context, ms *MedicalService) error {
	if err := validate(ms); err != nil {
		return err
	}
	existing, err := s.services.GetByCode(ctx, ms.Code)
	if err == nil && existing != nil && existing.ID != ms.ID {
		return apperr.New(apperr.TypeConflict, "service code %s already exists", ms.Code)
	}
	return s.services.Update(ctx, ms)
}

func (s *Service) SearchServices(ctx context.Context, params SearchParams, limit, offset int) ([]*MedicalService, int, error) {
	return s.services.Search(ctx, params, limit, offset)
}

// PriceFor returns the unit price to bill for svc. Dynamically priced
// services require a supplied price; fixed-price services ignore it.
func PriceFor(svc *MedicalService, supplied *decimal.Decimal) (decimal.Decimal, error) {
	if !svc.Active {
		return decimal.Zero, apperr.Validation("service %s is inactive", svc.Code)
	}
	if !svc.DynamicPrice {
		return svc.BasePrice, nil
	}
	if supplied == nil {
		return decimal.Zero, apperr.InvalidServiceLine("service %s requires a price", svc.Code)
	}
	if supplied.IsNegative() {
		return decimal.Zero, apperr.InvalidServiceLine("price for service %s must not be negative", svc.Code)
	}
	return money.Round(*supplied), nil
}

// LineInput is a requested service with an optional price for dynamic services.
type LineInput struct {
	ServiceID uuid.UUID        `json:"service_id" validate:"required"`
	Quantity  int              `json:"quantity" validate:"min=1"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// BuildLines prices each requested item from the catalog.
func (s *Service) BuildLines(ctx context.Context, items []LineInput) ([]insurance.ServiceLine, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ServiceID)
	}
	found, err := s.services.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]insurance.ServiceLine, 0, len(items))
	for i, it := range items {
		svc, ok := found[it.ServiceID]
		if !ok {
			return nil, apperr.InvalidServiceLine("line %d: service %s not found", i+1, it.ServiceID)
		}
		price, err := PriceFor(svc, it.UnitPrice)
		if err != nil {
			return nil, err
		}
		line := insurance.ServiceLine{
			ServiceID:   svc.ID,
			Description: svc.Name,
			Category:    svc.Category,
			Quantity:    it.Quantity,
			UnitPrice:   price,
		}
		if err := insurance.ValidateLine(line); err != nil {
			return nil, apperr.InvalidServiceLine("line %d: %s", i+1, apperr.Reason(err))
		}
		lines = append(lines, line)
	}
	return lines, nil
}
