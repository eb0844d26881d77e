package insurance

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinica/clinic/internal/platform/cache"
)

// CachedPolicyRepo serves GetByID from a cache and invalidates on writes.
// Cache failures degrade to the underlying repository.
type CachedPolicyRepo struct {
	PolicyRepository
	store  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedPolicyRepo(repo PolicyRepository, store cache.Store, ttl time.Duration, logger zerolog.Logger) *CachedPolicyRepo {
	return &CachedPolicyRepo{PolicyRepository: repo, store: store, ttl: ttl, logger: logger}
}

func policyKey(id uuid.UUID) string { return "policy:" + id.String() }

func (r *CachedPolicyRepo) GetByID(ctx context.Context, id uuid.UUID) (*Policy, error) {
	b, err := r.store.Get(ctx, policyKey(id))
	if err == nil {
		var p Policy
		if jerr := json.Unmarshal(b, &p); jerr == nil {
			return &p, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		r.logger.Warn().Err(err).Str("policy_id", id.String()).Msg("policy cache read failed")
	}

	p, err := r.PolicyRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(p); err == nil {
		if err := r.store.Set(ctx, policyKey(id), b, r.ttl); err != nil {
			r.logger.Warn().Err(err).Str("policy_id", id.String()).Msg("policy cache write failed")
		}
	}
	return p, nil
}

func (r *CachedPolicyRepo) Update(ctx context.Context, p *Policy) error {
	if err := r.PolicyRepository.Update(ctx, p); err != nil {
		return err
	}
	r.invalidate(ctx, p.ID)
	return nil
}

func (r *CachedPolicyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.PolicyRepository.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *CachedPolicyRepo) ReplaceRules(ctx context.Context, policyID uuid.UUID, rules []CoverageRule) error {
	if err := r.PolicyRepository.ReplaceRules(ctx, policyID, rules); err != nil {
		return err
	}
	r.invalidate(ctx, policyID)
	return nil
}

func (r *CachedPolicyRepo) invalidate(ctx context.Context, id uuid.UUID) {
	if err := r.store.Delete(ctx, policyKey(id)); err != nil {
		r.logger.Warn().Err(err).Str("policy_id", id.String()).Msg("policy cache invalidation failed")
	}
}
