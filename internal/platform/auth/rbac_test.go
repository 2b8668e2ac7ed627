package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/icu/icu/internal/platform/apperr"
)

func TestCan_Doctor(t *testing.T) {
	for _, a := range AllActions {
		want := a != ActionUserManage
		if got := Can(RoleDoctor, a); got != want {
			t.Errorf("doctor %s: expected %v, got %v", a, want, got)
		}
	}
}

func TestCan_Nurse(t *testing.T) {
	allowed := map[Action]bool{
		ActionPatientRead:      true,
		ActionPatientCondition: true,
		ActionVitalsRecord:     true,
		ActionMedicationStatus: true,
		ActionLabAcknowledge:   true,
		ActionNoteWrite:        true,
		ActionReportRead:       true,
	}
	for _, a := range AllActions {
		if got := Can(RoleNurse, a); got != allowed[a] {
			t.Errorf("nurse %s: expected %v, got %v", a, allowed[a], got)
		}
	}
}

func TestCan_AdminAndUnknown(t *testing.T) {
	for _, a := range AllActions {
		if !Can(RoleAdmin, a) {
			t.Errorf("admin should be allowed %s", a)
		}
		if Can(Role("Janitor"), a) {
			t.Errorf("unknown role should not be allowed %s", a)
		}
	}
}

func TestRequire(t *testing.T) {
	tests := []struct {
		name    string
		session *Session
		kind    apperr.Kind
		allowed bool
	}{
		{"no session", nil, apperr.KindUnauthenticated, false},
		{"nurse denied", &Session{UserID: uuid.New(), Role: RoleNurse}, apperr.KindAuthorization, false},
		{"doctor allowed", &Session{UserID: uuid.New(), Role: RoleDoctor}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", nil)
			if tt.session != nil {
				req = req.WithContext(WithSession(context.Background(), tt.session))
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			called := false
			h := Require(ActionPatientAdmit)(func(c echo.Context) error {
				called = true
				return c.NoContent(http.StatusOK)
			})
			err := h(c)

			if tt.allowed {
				if err != nil || !called {
					t.Fatalf("expected handler to run, err=%v", err)
				}
				return
			}
			if called {
				t.Fatal("handler must not run")
			}
			if apperr.KindOf(err) != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, apperr.KindOf(err))
			}
		})
	}
}

func TestRole_Valid(t *testing.T) {
	if !RoleNurse.Valid() || !RoleDoctor.Valid() || !RoleAdmin.Valid() {
		t.Error("expected known roles to be valid")
	}
	if Role("admin").Valid() {
		t.Error("roles are case sensitive")
	}
}
