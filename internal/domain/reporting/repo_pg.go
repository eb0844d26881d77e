package reporting

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var dialect = goqu.Dialect("postgres")

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func inPeriod(col exp.IdentifierExpression, p Period) exp.Expression {
	return goqu.And(col.Gte(p.From), col.Lt(p.To))
}

func sumOrZero(col interface{}) exp.SQLFunctionExpression {
	return goqu.COALESCE(goqu.SUM(col), 0)
}

func statusTotalsQuery(p Period) *goqu.SelectDataset {
	return dialect.From("invoice").Prepared(true).
		Select(
			goqu.C("status"),
			goqu.COUNT("*"),
			sumOrZero(goqu.C("total_amount")),
			sumOrZero(goqu.C("paid_amount")),
			sumOrZero(goqu.C("pending_amount")),
		).
		Where(inPeriod(goqu.C("created_at"), p)).
		GroupBy(goqu.C("status")).
		Order(goqu.C("status").Asc())
}

// cashQuery sums payments on non-cancelled invoices issued in the period.
func cashQuery(p Period) *goqu.SelectDataset {
	return dialect.From(goqu.T("invoice_payment").As("p")).Prepared(true).
		Join(goqu.T("invoice").As("i"), goqu.On(goqu.I("i.id").Eq(goqu.I("p.invoice_id")))).
		Select(sumOrZero(goqu.I("p.amount"))).
		Where(
			inPeriod(goqu.I("i.created_at"), p),
			goqu.I("i.status").Neq(statusCancelled),
		)
}

var createdDay = goqu.L("created_at::date")

func dailyPaymentsQuery(p Period) *goqu.SelectDataset {
	return dialect.From("invoice_payment").Prepared(true).
		Select(createdDay, goqu.COUNT("*"), sumOrZero(goqu.C("amount"))).
		Where(inPeriod(goqu.C("created_at"), p)).
		GroupBy(createdDay).
		Order(createdDay.Asc())
}

func dailyInvoicesQuery(p Period) *goqu.SelectDataset {
	return dialect.From("invoice").Prepared(true).
		Select(createdDay, goqu.COUNT("*")).
		Where(inPeriod(goqu.C("created_at"), p)).
		GroupBy(createdDay).
		Order(createdDay.Asc())
}

// insuranceQuery excludes exonerated invoices: the waiver supersedes coverage.
func insuranceQuery(p Period) *goqu.SelectDataset {
	return dialect.From(goqu.T("invoice").As("i")).Prepared(true).
		LeftJoin(goqu.T("insurance_policy").As("ip"), goqu.On(goqu.I("ip.id").Eq(goqu.I("i.insurance_policy_id")))).
		Select(
			goqu.I("i.insurance_policy_id"),
			goqu.COALESCE(goqu.I("ip.name"), "").As("policy_name"),
			goqu.COUNT("*"),
			sumOrZero(goqu.I("i.subtotal_amount")),
			sumOrZero(goqu.I("i.insurance_amount")),
			sumOrZero(goqu.I("i.total_amount")),
		).
		Where(
			goqu.I("i.insurance_applied").IsTrue(),
			goqu.I("i.status").NotIn(statusExonerated, statusCancelled),
			inPeriod(goqu.I("i.created_at"), p),
		).
		GroupBy(goqu.I("i.insurance_policy_id"), goqu.I("ip.name")).
		Order(goqu.I("policy_name").Asc())
}

func genderQuery() *goqu.SelectDataset {
	return dialect.From("patient").Prepared(true).
		Select(goqu.C("gender"), goqu.COUNT("*")).
		Where(goqu.C("active").IsTrue()).
		GroupBy(goqu.C("gender")).
		Order(goqu.C("gender").Asc())
}

// bracketExpr maps birth_date to an ageBrackets label as of asOf.
func bracketExpr(asOf time.Time) exp.CaseExpression {
	age := goqu.L("date_part('year', age(?::date, birth_date))", asOf.Format("2006-01-02"))
	c := goqu.Case().When(goqu.C("birth_date").IsNull(), unknownBracket)
	for _, b := range ageBrackets {
		if b.Max < 0 {
			c = c.When(age.Gte(b.Min), b.Label)
		} else {
			c = c.When(age.Between(goqu.Range(b.Min, b.Max)), b.Label)
		}
	}
	return c.Else(unknownBracket)
}

func ageBracketQuery(asOf time.Time) *goqu.SelectDataset {
	return dialect.From("patient").Prepared(true).
		Select(bracketExpr(asOf).As("bracket"), goqu.COUNT("*")).
		Where(goqu.C("active").IsTrue()).
		GroupBy(goqu.C("bracket"))
}

func (s *storePG) StatusTotals(ctx context.Context, p Period) ([]StatusTotals, error) {
	sql, args, err := statusTotalsQuery(p).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusTotals
	for rows.Next() {
		var r StatusTotals
		if err := rows.Scan(&r.Status, &r.Count, &r.Total, &r.Paid, &r.Pending); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *storePG) CashCollected(ctx context.Context, p Period) (decimal.Decimal, error) {
	sql, args, err := cashQuery(p).ToSQL()
	if err != nil {
		return decimal.Zero, err
	}
	var total decimal.Decimal
	err = s.pool.QueryRow(ctx, sql, args...).Scan(&total)
	return total, err
}

func (s *storePG) DailyPayments(ctx context.Context, p Period) ([]DayPayments, error) {
	sql, args, err := dailyPaymentsQuery(p).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DayPayments
	for rows.Next() {
		var r DayPayments
		if err := rows.Scan(&r.Day, &r.Count, &r.Total); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *storePG) DailyInvoices(ctx context.Context, p Period) ([]DayInvoices, error) {
	sql, args, err := dailyInvoicesQuery(p).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DayInvoices
	for rows.Next() {
		var r DayInvoices
		if err := rows.Scan(&r.Day, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *storePG) InsuranceBreakdown(ctx context.Context, p Period) ([]InsuranceLine, error) {
	sql, args, err := insuranceQuery(p).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []InsuranceLine{}
	for rows.Next() {
		var r InsuranceLine
		if err := rows.Scan(&r.PolicyID, &r.PolicyName, &r.InvoiceCount, &r.BaseAmount, &r.InsuranceCovers, &r.PatientPays); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *storePG) GenderCounts(ctx context.Context) ([]Bucket, error) {
	sql, args, err := genderQuery().ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Bucket{}
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Label, &b.Count); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *storePG) AgeBracketCounts(ctx context.Context, asOf time.Time) (map[string]int, error) {
	sql, args, err := ageBracketQuery(asOf).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		out[label] = n
	}
	return out, rows.Err()
}
