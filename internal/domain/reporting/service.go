package reporting

import (
	"context"
	"time"

	"github.com/clinica/clinic/pkg/apperr"
)

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// ParsePeriod reads YYYY-MM-DD bounds; to is inclusive. Missing bounds
// default to the first of the current month and today.
func (s *Service) ParsePeriod(from, to string) (Period, error) {
	now := s.now().UTC()
	p := Period{
		From: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1),
	}
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return Period{}, apperr.Validation("invalid from date %q, expected YYYY-MM-DD", from)
		}
		p.From = t
	}
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return Period{}, apperr.Validation("invalid to date %q, expected YYYY-MM-DD", to)
		}
		p.To = t.AddDate(0, 0, 1)
	}
	if !p.From.Before(p.To) {
		return Period{}, apperr.Validation("from must not be after to")
	}
	return p, nil
}

func (s *Service) report(name string, p *Period, data interface{}) *Report {
	return &Report{Name: name, GeneratedAt: s.now().UTC(), Period: p, Data: data}
}

func (s *Service) FinancialSummary(ctx context.Context, p Period) (*Report, error) {
	rows, err := s.store.StatusTotals(ctx, p)
	if err != nil {
		return nil, apperr.Internal("financial summary", err)
	}
	cash, err := s.store.CashCollected(ctx, p)
	if err != nil {
		return nil, apperr.Internal("cash collected", err)
	}
	return s.report("financial-summary", &p, Summarize(rows, cash)), nil
}

func (s *Service) DailySales(ctx context.Context, p Period) (*Report, error) {
	payments, err := s.store.DailyPayments(ctx, p)
	if err != nil {
		return nil, apperr.Internal("daily payments", err)
	}
	issued, err := s.store.DailyInvoices(ctx, p)
	if err != nil {
		return nil, apperr.Internal("daily invoices", err)
	}
	return s.report("daily-sales", &p, MergeDaily(payments, issued)), nil
}

func (s *Service) InsuranceBreakdown(ctx context.Context, p Period) (*Report, error) {
	lines, err := s.store.InsuranceBreakdown(ctx, p)
	if err != nil {
		return nil, apperr.Internal("insurance breakdown", err)
	}
	return s.report("insurance-breakdown", &p, lines), nil
}

func (s *Service) Demographics(ctx context.Context) (*Report, error) {
	genders, err := s.store.GenderCounts(ctx)
	if err != nil {
		return nil, apperr.Internal("gender counts", err)
	}
	brackets, err := s.store.AgeBracketCounts(ctx, s.now())
	if err != nil {
		return nil, apperr.Internal("age brackets", err)
	}
	d := Demographics{ByGender: genders, ByAgeBracket: OrderBrackets(brackets)}
	for _, g := range genders {
		d.TotalPatients += g.Count
	}
	return s.report("demographics", nil, d), nil
}
