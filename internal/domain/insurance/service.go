package insurance

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinica/clinic/pkg/apperr"
)

type Service struct {
	policies PolicyRepository
}

func NewService(policies PolicyRepository) *Service {
	return &Service{policies: policies}
}

func (s *Service) CreatePolicy(ctx context.Context, p *Policy) error {
	if err := ValidatePolicy(p); err != nil {
		return err
	}
	if existing, err := s.policies.GetByCode(ctx, p.Code); err == nil && existing != nil {
		return apperr.New(apperr.TypeConflict, "policy code %s already exists", p.Code)
	}
	return s.policies.Create(ctx, p)
}

func (s *Service) GetPolicy(ctx context.Context, id uuid.UUID) (*Policy, error) {
	return s.policies.GetByID(ctx, id)
}

func (s *Service) UpdatePolicy(ctx context.Context, p *Policy) error {
	if err := ValidatePolicy(p); err != nil {
		return err
	}
	return s.policies.Update(ctx, p)
}

func (s *Service) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	return s.policies.Delete(ctx, id)
}

func (s *Service) ListPolicies(ctx context.Context, activeOnly bool, limit, offset int) ([]*Policy, int, error) {
	return s.policies.List(ctx, activeOnly, limit, offset)
}

// Resolve loads a policy for calculation. A nil id means no insurance and
// yields a nil policy. Missing or inactive policies are UNKNOWN_POLICY.
func (s *Service) Resolve(ctx context.Context, policyID *uuid.UUID) (*Policy, error) {
	if policyID == nil {
		return nil, nil
	}
	p, err := s.policies.GetByID(ctx, *policyID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.New(apperr.TypeUnknownPolicy, "insurance policy %s not found", policyID)
	}
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, apperr.New(apperr.TypeUnknownPolicy, "insurance policy %s is inactive", p.Code)
	}
	return p, nil
}

// CalculateForPatient resolves the patient's policy then runs Calculate.
func (s *Service) CalculateForPatient(ctx context.Context, policyID *uuid.UUID, lines []ServiceLine) (*Calculation, error) {
	policy, err := s.Resolve(ctx, policyID)
	if err != nil {
		return nil, err
	}
	return Calculate(policy, lines)
}

// ValidatePolicy checks required fields and coverage rules.
func ValidatePolicy(p *Policy) error {
	p.Code = strings.TrimSpace(p.Code)
	p.Name = strings.TrimSpace(p.Name)
	if p.Code == "" {
		return apperr.Validation("code is required")
	}
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	if p.DefaultPercent != nil && !validPercent(*p.DefaultPercent) {
		return apperr.New(apperr.TypeInvalidCoverageRule, "default_percent must be between 0 and 100, got %s", p.DefaultPercent)
	}

	services := map[uuid.UUID]bool{}
	categories := map[string]bool{}
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.Category != nil {
			c := strings.ToLower(strings.TrimSpace(*r.Category))
			r.Category = nil
			if c != "" {
				r.Category = &c
			}
		}
		hasService := r.ServiceID != nil
		hasCategory := r.Category != nil
		if hasService == hasCategory {
			return apperr.New(apperr.TypeInvalidCoverageRule, "rule %d must name either a service or a category", i+1)
		}
		if !validPercent(r.Percent) {
			return apperr.New(apperr.TypeInvalidCoverageRule, "rule %d percent must be between 0 and 100, got %s", i+1, r.Percent)
		}
		if hasService {
			if services[*r.ServiceID] {
				return apperr.New(apperr.TypeInvalidCoverageRule, "duplicate rule for service %s", r.ServiceID)
			}
			services[*r.ServiceID] = true
			continue
		}
		if categories[*r.Category] {
			return apperr.New(apperr.TypeInvalidCoverageRule, "duplicate rule for category %s", *r.Category)
		}
		categories[*r.Category] = true
	}
	return nil
}

func validPercent(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred)
}
