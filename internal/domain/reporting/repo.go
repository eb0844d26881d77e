package reporting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store runs the report queries.
type Store interface {
	StatusTotals(ctx context.Context, p Period) ([]StatusTotals, error)
	CashCollected(ctx context.Context, p Period) (decimal.Decimal, error)
	DailyPayments(ctx context.Context, p Period) ([]DayPayments, error)
	DailyInvoices(ctx context.Context, p Period) ([]DayInvoices, error)
	InsuranceBreakdown(ctx context.Context, p Period) ([]InsuranceLine, error)
	GenderCounts(ctx context.Context) ([]Bucket, error)
	AgeBracketCounts(ctx context.Context, asOf time.Time) (map[string]int, error)
}
