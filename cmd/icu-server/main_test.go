package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/config"
	"github.com/icu/icu/internal/platform/auth"
	"github.com/icu/icu/internal/platform/middleware"
	"github.com/icu/icu/internal/platform/reconcile"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                  "test",
		SessionSecret:        strings.Repeat("k", 32),
		SessionIdleTimeout:   time.Hour,
		BedCapacity:          20,
		ReadmissionWindow:    30 * 24 * time.Hour,
		DischargedVisibleFor: 24 * time.Hour,
		ReconcileMaxAttempts: 5,
		RateLimitRPS:         1000,
		RateLimitBurst:       1000,
		RequestTimeout:       5 * time.Second,
	}
}

// The pool is nil: none of these requests reach the record store.
func newTestServer(t *testing.T) (*server, *auth.MemoryStore) {
	t.Helper()
	store := auth.NewMemoryStore(time.Hour)
	t.Cleanup(store.Close)
	return newServer(testConfig(), nil, store, nil, zerolog.Nop()), store
}

func TestNewServer_Routes(t *testing.T) {
	srv, _ := newTestServer(t)

	registered := map[string]bool{}
	for _, r := range srv.echo.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	want := []string{
		"GET /health",
		"GET /metrics",
		"POST /api/v1/auth/login",
		"POST /api/v1/auth/logout",
		"GET /api/v1/auth/me",
		"GET /api/v1/users",
		"POST /api/v1/users",
		"DELETE /api/v1/users/:id",
		"GET /api/v1/patients",
		"POST /api/v1/patients",
		"PATCH /api/v1/patients/:id/condition",
		"PATCH /api/v1/patients/:id/discharge-status",
		"POST /api/v1/patients/:id/discharge",
		"GET /api/v1/patients/:id/episodes",
		"GET /api/v1/discharges",
		"POST /api/v1/patients/:id/vitals",
		"POST /api/v1/patients/:id/medications",
		"PATCH /api/v1/medications/:id/status",
		"POST /api/v1/patients/:id/labs",
		"POST /api/v1/labs/:id/acknowledge",
		"POST /api/v1/patients/:id/procedures",
		"POST /api/v1/patients/:id/notes",
		"GET /api/v1/notifications",
		"PATCH /api/v1/notifications/:id/read",
		"GET /api/v1/reports",
		"GET /api/v1/reports/export.xlsx",
		"GET /api/v1/ws",
	}
	for _, route := range want {
		if !registered[route] {
			t.Errorf("route %q not registered", route)
		}
	}
}

func TestNewServer_RequiresSession(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	var body middleware.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != "UNAUTHENTICATED" {
		t.Errorf("expected UNAUTHENTICATED, got %q", body.Error.Code)
	}
}

func TestNewServer_LoginIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"employee_code":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 from validation, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNewServer_RoleEnforced(t *testing.T) {
	srv, store := newTestServer(t)

	sess := auth.NewSession(uuid.New(), "N-001", "Night Nurse", auth.RoleNurse, time.Now())
	if err := store.Save(t.Context(), sess); err != nil {
		t.Fatalf("save session: %v", err)
	}
	token, err := auth.NewTokenIssuer(testConfig().SigningKey()).Issue(sess)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a nurse, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPrintTasks(t *testing.T) {
	lastErr := "notification insert failed"
	var buf bytes.Buffer
	printTasks(&buf, []*reconcile.Task{{
		ID:        "8a1f0c3e-0000-4000-8000-000000000001",
		Kind:      "discharge_notification",
		Status:    reconcile.StatusDead,
		Attempts:  10,
		LastError: &lastErr,
		UpdatedAt: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %q", buf.String())
	}
	for _, want := range []string{"discharge_notification", "10", "2026-03-10 09:00:00", lastErr} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q missing %q", lines[1], want)
		}
	}
}

func TestTasksCmd_Flags(t *testing.T) {
	cmd := tasksCmd()
	if f := cmd.Flags().Lookup("status"); f == nil || f.DefValue != "dead" {
		t.Fatalf("expected --status defaulting to dead, got %+v", f)
	}
	if cmd.Flags().Lookup("limit") == nil {
		t.Fatal("expected --limit flag")
	}
}
