package insurance

import (
	"context"

	"github.com/google/uuid"
)

type PolicyRepository interface {
	Create(ctx context.Context, p *Policy) error
	GetByID(ctx context.Context, id uuid.UUID) (*Policy, error)
	GetByCode(ctx context.Context, code string) (*Policy, error)
	Update(ctx context.Context, p *Policy) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Policy, int, error)
	// ReplaceRules swaps the full rule set of a policy.
	ReplaceRules(ctx context.Context, policyID uuid.UUID, rules []CoverageRule) error
}
