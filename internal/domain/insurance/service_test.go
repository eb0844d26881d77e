package insurance

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinica/clinic/pkg/apperr"
)

type mockPolicyRepo struct {
	items map[uuid.UUID]*Policy
	gets  int
}

func newMockPolicyRepo() *mockPolicyRepo {
	return &mockPolicyRepo{items: make(map[uuid.UUID]*Policy)}
}

func (m *mockPolicyRepo) Create(_ context.Context, p *Policy) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.items[p.ID] = p
	return nil
}

func (m *mockPolicyRepo) GetByID(_ context.Context, id uuid.UUID) (*Policy, error) {
	m.gets++
	p, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("insurance policy")
	}
	return p, nil
}

func (m *mockPolicyRepo) GetByCode(_ context.Context, code string) (*Policy, error) {
	for _, p := range m.items {
		if p.Code == code {
			return p, nil
		}
	}
	return nil, apperr.NotFound("insurance policy")
}

func (m *mockPolicyRepo) Update(_ context.Context, p *Policy) error {
	if _, ok := m.items[p.ID]; !ok {
		return apperr.NotFound("insurance policy")
	}
	m.items[p.ID] = p
	return nil
}

func (m *mockPolicyRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return apperr.NotFound("insurance policy")
	}
	delete(m.items, id)
	return nil
}

func (m *mockPolicyRepo) List(_ context.Context, activeOnly bool, limit, offset int) ([]*Policy, int, error) {
	var all []*Policy
	for _, p := range m.items {
		if activeOnly && !p.Active {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockPolicyRepo) ReplaceRules(_ context.Context, policyID uuid.UUID, rules []CoverageRule) error {
	p, ok := m.items[policyID]
	if !ok {
		return apperr.NotFound("insurance policy")
	}
	p.Rules = rules
	return nil
}

func newTestService() (*Service, *mockPolicyRepo) {
	repo := newMockPolicyRepo()
	return NewService(repo), repo
}

func TestService_CreatePolicy(t *testing.T) {
	svc, _ := newTestService()
	svcID := uuid.New()
	p := &Policy{Code: " PS-01 ", Name: "Plan Salud", Active: true, Rules: []CoverageRule{serviceRule(svcID, "80")}}
	if err := svc.CreatePolicy(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if p.Code != "PS-01" {
		t.Errorf("expected trimmed code, got %q", p.Code)
	}
}

func TestService_CreatePolicy_DuplicateCode(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if err := svc.CreatePolicy(ctx, &Policy{Code: "PS", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	err := svc.CreatePolicy(ctx, &Policy{Code: "PS", Name: "B"})
	if apperr.TypeOf(err) != apperr.TypeConflict {
		t.Errorf("expected CONFLICT, got %v", err)
	}
}

func TestValidatePolicy(t *testing.T) {
	svcID := uuid.New()
	empty := ""
	tests := []struct {
		name   string
		policy Policy
		want   apperr.Type
	}{
		{"missing code", Policy{Name: "x"}, apperr.TypeValidation},
		{"missing name", Policy{Code: "x"}, apperr.TypeValidation},
		{"default over 100", Policy{Code: "x", Name: "x", DefaultPercent: pct("100.01")}, apperr.TypeInvalidCoverageRule},
		{"negative rule", Policy{Code: "x", Name: "x", Rules: []CoverageRule{serviceRule(svcID, "-1")}}, apperr.TypeInvalidCoverageRule},
		{"rule over 100", Policy{Code: "x", Name: "x", Rules: []CoverageRule{categoryRule("lab", "101")}}, apperr.TypeInvalidCoverageRule},
		{"rule names neither", Policy{Code: "x", Name: "x", Rules: []CoverageRule{{Category: &empty, Percent: d("10")}}}, apperr.TypeInvalidCoverageRule},
		{"rule names both", Policy{Code: "x", Name: "x", Rules: []CoverageRule{{ServiceID: &svcID, Category: strPtr("lab"), Percent: d("10")}}}, apperr.TypeInvalidCoverageRule},
		{"duplicate service", Policy{Code: "x", Name: "x", Rules: []CoverageRule{serviceRule(svcID, "10"), serviceRule(svcID, "20")}}, apperr.TypeInvalidCoverageRule},
		{"duplicate category", Policy{Code: "x", Name: "x", Rules: []CoverageRule{categoryRule("lab", "10"), categoryRule("lab", "20")}}, apperr.TypeInvalidCoverageRule},
		{"duplicate category by case", Policy{Code: "x", Name: "x", Rules: []CoverageRule{categoryRule("Lab", "10"), categoryRule(" lab ", "20")}}, apperr.TypeInvalidCoverageRule},
		{"blank category", Policy{Code: "x", Name: "x", Rules: []CoverageRule{categoryRule("   ", "10")}}, apperr.TypeInvalidCoverageRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.policy
			err := ValidatePolicy(&p)
			if err == nil {
				t.Fatal("expected error")
			}
			if apperr.TypeOf(err) != tt.want {
				t.Errorf("expected %s, got %v", tt.want, err)
			}
		})
	}

	ok := Policy{Code: "x", Name: "x", DefaultPercent: pct("0"), Rules: []CoverageRule{serviceRule(svcID, "100"), categoryRule("lab", "0")}}
	if err := ValidatePolicy(&ok); err != nil {
		t.Errorf("expected boundary percents to be valid, got %v", err)
	}
}

func strPtr(s string) *string { return &s }

func TestValidatePolicy_NormalizesCategories(t *testing.T) {
	p := Policy{Code: "x", Name: "x", Rules: []CoverageRule{categoryRule("  Laboratory ", "80")}}
	if err := ValidatePolicy(&p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *p.Rules[0].Category; got != "laboratory" {
		t.Errorf("expected category %q, got %q", "laboratory", got)
	}

	calc, err := Calculate(&p, []ServiceLine{{ServiceID: uuid.New(), Description: "Lab", Category: "laboratory", Quantity: 1, UnitPrice: d("50")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !calc.Lines[0].CoveragePercent.Equal(d("80")) {
		t.Errorf("expected 80%% coverage, got %s", calc.Lines[0].CoveragePercent)
	}
	if !calc.Lines[0].InsuranceCovers.Equal(d("40")) {
		t.Errorf("expected insurer to cover 40, got %s", calc.Lines[0].InsuranceCovers)
	}
}

func TestService_Resolve(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p, err := svc.Resolve(ctx, nil)
	if err != nil || p != nil {
		t.Errorf("expected nil policy for no insurance, got %v, %v", p, err)
	}

	missing := uuid.New()
	_, err = svc.Resolve(ctx, &missing)
	if apperr.TypeOf(err) != apperr.TypeUnknownPolicy {
		t.Errorf("expected UNKNOWN_POLICY, got %v", err)
	}

	inactive := &Policy{Code: "OLD", Name: "Old plan", Active: false}
	if err := svc.CreatePolicy(ctx, inactive); err != nil {
		t.Fatal(err)
	}
	_, err = svc.Resolve(ctx, &inactive.ID)
	if apperr.TypeOf(err) != apperr.TypeUnknownPolicy {
		t.Errorf("expected UNKNOWN_POLICY for inactive policy, got %v", err)
	}
}

func TestService_CalculateForPatient(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	consultation := uuid.New()
	p := &Policy{Code: "PS", Name: "Plan Salud", Active: true, Rules: []CoverageRule{serviceRule(consultation, "80")}}
	if err := svc.CreatePolicy(ctx, p); err != nil {
		t.Fatal(err)
	}

	calc, err := svc.CalculateForPatient(ctx, &p.ID, []ServiceLine{
		{ServiceID: consultation, Quantity: 1, UnitPrice: d("100")},
		{ServiceID: uuid.New(), Quantity: 1, UnitPrice: d("50")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !calc.TotalPatientPays.Equal(d("70")) {
		t.Errorf("expected patient pays 70, got %s", calc.TotalPatientPays)
	}

	calc, err = svc.CalculateForPatient(ctx, nil, []ServiceLine{{ServiceID: consultation, Quantity: 1, UnitPrice: d("100")}})
	if err != nil {
		t.Fatal(err)
	}
	if !calc.TotalPatientPays.Equal(d("100")) {
		t.Errorf("expected full price without insurance, got %s", calc.TotalPatientPays)
	}
}

func TestService_ListPolicies_ActiveOnly(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	_ = svc.CreatePolicy(ctx, &Policy{Code: "A", Name: "A", Active: true})
	_ = svc.CreatePolicy(ctx, &Policy{Code: "B", Name: "B", Active: false})

	items, total, err := svc.ListPolicies(ctx, true, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 || items[0].Code != "A" {
		t.Errorf("expected only active policy, got %d items (total %d)", len(items), total)
	}
}
