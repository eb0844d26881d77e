package insurance

import (
	"context"
	"errors"

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

type policyRepoPG struct{ pool *pgxpool.Pool }

func NewPolicyRepoPG(pool *pgxpool.Pool) PolicyRepository { return &policyRepoPG{pool: pool} }

func (r *policyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const policyCols = `id, code, name, default_percent, active, created_at, updated_at`

func (r *policyRepoPG) scanPolicy(row pgx.Row) (*Policy, error) {
	var p Policy
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.DefaultPercent, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("insurance policy")
	}
	return &p, err
}

func (r *policyRepoPG) loadRules(ctx context.Context, p *Policy) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, policy_id, service_id, category, percent
		FROM insurance_coverage_rule WHERE policy_id = $1 ORDER BY id`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	p.Rules = []CoverageRule{}
	for rows.Next() {
		var cr CoverageRule
		if err := rows.Scan(&cr.ID, &cr.PolicyID, &cr.ServiceID, &cr.Category, &cr.Percent); err != nil {
			return err
		}
		p.Rules = append(p.Rules, cr)
	}
	return rows.Err()
}

func (r *policyRepoPG) Create(ctx context.Context, p *Policy) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO insurance_policy (id, code, name, default_percent, active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		p.ID, p.Code, p.Name, p.DefaultPercent, p.Active).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}
	return r.ReplaceRules(ctx, p.ID, p.Rules)
}

func (r *policyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Policy, error) {
	p, err := r.scanPolicy(r.conn(ctx).QueryRow(ctx, `SELECT `+policyCols+` FROM insurance_policy WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return p, r.loadRules(ctx, p)
}

func (r *policyRepoPG) GetByCode(ctx context.Context, code string) (*Policy, error) {
	p, err := r.scanPolicy(r.conn(ctx).QueryRow(ctx, `SELECT `+policyCols+` FROM insurance_policy WHERE code = $1`, code))
	if err != nil {
		return nil, err
	}
	return p, r.loadRules(ctx, p)
}

func (r *policyRepoPG) Update(ctx context.Context, p *Policy) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE insurance_policy SET code=$2, name=$3, default_percent=$4, active=$5, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Code, p.Name, p.DefaultPercent, p.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("insurance policy")
	}
	return r.ReplaceRules(ctx, p.ID, p.Rules)
}

func (r *policyRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM insurance_policy WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("insurance policy")
	}
	return nil
}

func (r *policyRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Policy, int, error) {
	where := ``
	if activeOnly {
		where = ` WHERE active`
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM insurance_policy`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+policyCols+` FROM insurance_policy`+where+` ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var items []*Policy
	for rows.Next() {
		p, err := r.scanPolicy(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, p)
	}
	rows.Close()
	for _, p := range items {
		if err := r.loadRules(ctx, p); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

func (r *policyRepoPG) ReplaceRules(ctx context.Context, policyID uuid.UUID, rules []CoverageRule) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM insurance_coverage_rule WHERE policy_id = $1`, policyID); err != nil {
		return err
	}
	for i := range rules {
		rules[i].ID = uuid.New()
		rules[i].PolicyID = policyID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO insurance_coverage_rule (id, policy_id, service_id, category, percent)
			VALUES ($1,$2,$3,$4,$5)`,
			rules[i].ID, policyID, rules[i].ServiceID, rules[i].Category, rules[i].Percent); err != nil {
			return err
		}
	}
	return nil
}
