package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinica/clinic/internal/config"
	"github.com/clinica/clinic/internal/platform/db"
)

func testConfig(env string) *config.Config {
	return &config.Config{
		Env:            env,
		AuthSigningKey: strings.Repeat("s", 32),
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		InvoicePrefix:  "FAC",
		InvoiceLockTTL: time.Second,
		PolicyCacheTTL: time.Minute,
		Currency:       "USD",
	}
}

func testServerBackends(t *testing.T) *backends {
	be, err := newBackends(context.Background(), &config.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return be
}

func TestNewServer_RegistersBillingRoutes(t *testing.T) {
	e := newServer(testConfig("production"), zerolog.Nop(), nil, testServerBackends(t))

	want := map[string]bool{
		"POST /api/v1/invoices":                          false,
		"POST /api/v1/invoices/coverage-preview":         false,
		"POST /api/v1/invoices/:id/payments":             false,
		"POST /api/v1/invoices/:id/status":               false,
		"POST /api/v1/invoices/:id/exoneration":          false,
		"POST /api/v1/invoices/:id/exoneration/reversal": false,
		"GET /api/v1/invoices/:id/history":               false,
		"GET /api/v1/reports/financial":                  false,
		"GET /api/v1/patients/:id":                       false,
		"GET /api/v1/services":                           false,
		"GET /api/v1/insurance-policies/:id":             false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}

func TestNewServer_HealthIsPublic(t *testing.T) {
	e := newServer(testConfig("production"), zerolog.Nop(), nil, testServerBackends(t))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id on every response")
	}
}

func TestNewServer_APIRequiresToken(t *testing.T) {
	e := newServer(testConfig("production"), zerolog.Nop(), nil, testServerBackends(t))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/invoices", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestNewServer_RoleEnforced(t *testing.T) {
	e := newServer(testConfig("production"), zerolog.Nop(), nil, testServerBackends(t))

	// a malformed token never reaches the role check
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/invoices/00000000-0000-0000-0000-000000000001", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestNewBackends_InMemoryWithoutRedis(t *testing.T) {
	be := testServerBackends(t)
	defer be.close()
	if be.store == nil || be.locker == nil {
		t.Fatal("expected in-memory store and locker")
	}
	if len(be.checks) != 0 {
		t.Errorf("expected no extra health checks, got %d", len(be.checks))
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	prodLog := newLogger("production", &buf)
	prodLog.Info().Msg("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	devLog := newLogger("development", &buf)
	devLog.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected console output, got %q", buf.String())
	}
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_clinic.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})
	out := buf.String()
	if !strings.Contains(out, "001_clinic.sql") || !strings.Contains(out, "2024-03-01 09:30:00") {
		t.Errorf("missing applied row: %s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("missing pending row: %s", out)
	}
}
