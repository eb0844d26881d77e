package patient

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

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

var patientCols = []interface{}{
	"id", "document_number", "first_name", "last_name", "gender", "birth_date",
	"phone", "email", "address", "insurance_policy_id", "active", "created_at", "updated_at",
}

const patientColsSQL = `id, document_number, first_name, last_name, gender, birth_date,
	phone, email, address, insurance_policy_id, active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.DocumentNumber, &p.FirstName, &p.LastName, &p.Gender, &p.BirthDate,
		&p.Phone, &p.Email, &p.Address, &p.InsurancePolicyID, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, document_number, first_name, last_name, gender, birth_date,
			phone, email, address, insurance_policy_id, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		p.ID, p.DocumentNumber, p.FirstName, p.LastName, p.Gender, p.BirthDate,
		p.Phone, p.Email, p.Address, p.InsurancePolicyID, p.Active).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientColsSQL+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByDocument(ctx context.Context, documentNumber string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientColsSQL+` FROM patient WHERE document_number = $1`, documentNumber))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET document_number=$2, first_name=$3, last_name=$4, gender=$5, birth_date=$6,
			phone=$7, email=$8, address=$9, insurance_policy_id=$10, active=$11, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.DocumentNumber, p.FirstName, p.LastName, p.Gender, p.BirthDate,
		p.Phone, p.Email, p.Address, p.InsurancePolicyID, p.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient")
	}
	return nil
}

// searchQuery builds the filtered patient selection shared by the count and page queries.
func searchQuery(params SearchParams) *goqu.SelectDataset {
	ds := dialect.From("patient").Prepared(true)
	if name := strings.TrimSpace(params.Name); name != "" {
		like := "%" + name + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("first_name").ILike(like),
			goqu.C("last_name").ILike(like),
			goqu.L("first_name || ' ' || last_name").ILike(like),
		))
	}
	if params.DocumentNumber != "" {
		ds = ds.Where(goqu.C("document_number").Eq(params.DocumentNumber))
	}
	if params.Active != nil {
		ds = ds.Where(goqu.C("active").Eq(*params.Active))
	}
	return ds
}

func (r *patientRepoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Patient, int, error) {
	base := searchQuery(params)

	countSQL, countArgs, err := base.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageSQL, pageArgs, err := base.Select(patientCols...).
		Order(goqu.C("last_name").Asc(), goqu.C("first_name").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
