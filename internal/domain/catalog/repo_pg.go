package catalog

import (
	"context"
	"errors"
	"strings"

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

type serviceRepoPG struct{ pool *pgxpool.Pool }

func NewServiceRepoPG(pool *pgxpool.Pool) ServiceRepository { return &serviceRepoPG{pool: pool} }

func (r *serviceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

var serviceCols = []interface{}{
	"id", "code", "name", "category", "base_price", "dynamic_price", "active", "created_at", "updated_at",
}

const serviceColsSQL = `id, code, name, category, base_price, dynamic_price, active, created_at, updated_at`

func scanService(row pgx.Row) (*MedicalService, error) {
	var s MedicalService
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.Category, &s.BasePrice, &s.DynamicPrice, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("service")
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *serviceRepoPG) Create(ctx context.Context, s *MedicalService) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_service (id, code, name, category, base_price, dynamic_price, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		s.ID, s.Code, s.Name, s.Category, s.BasePrice, s.DynamicPrice, s.Active).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *serviceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalService, error) {
	return scanService(r.conn(ctx).QueryRow(ctx, `SELECT `+serviceColsSQL+` FROM medical_service WHERE id = $1`, id))
}

func (r *serviceRepoPG) GetByCode(ctx context.Context, code string) (*MedicalService, error) {
	return scanService(r.conn(ctx).QueryRow(ctx, `SELECT `+serviceColsSQL+` FROM medical_service WHERE code = $1`, code))
}

func (r *serviceRepoPG) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*MedicalService, error) {
	out := make(map[uuid.UUID]*MedicalService, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+serviceColsSQL+` FROM medical_service WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

func (r *serviceRepoPG) Update(ctx context.Context, s *MedicalService) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medical_service SET code=$2, name=$3, category=$4, base_price=$5, dynamic_price=$6, active=$7, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.Code, s.Name, s.Category, s.BasePrice, s.DynamicPrice, s.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("service")
	}
	return nil
}

func searchQuery(params SearchParams) *goqu.SelectDataset {
	ds := dialect.From("medical_service").Prepared(true)
	if q := strings.TrimSpace(params.Query); q != "" {
		like := "%" + q + "%"
		ds = ds.Where(goqu.Or(goqu.C("name").ILike(like), goqu.C("code").ILike(like)))
	}
	if params.Category != "" {
		ds = ds.Where(goqu.C("category").Eq(params.Category))
	}
	if params.Active != nil {
		ds = ds.Where(goqu.C("active").Eq(*params.Active))
	}
	return ds
}

func (r *serviceRepoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*MedicalService, int, error) {
	base := searchQuery(params)
	countSQL, countArgs, err := base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageSQL, pageArgs, err := base.Select(serviceCols...).
		Order(goqu.C("category").Asc(), goqu.C("name").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicalService
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
