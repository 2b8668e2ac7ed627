package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	return NewHandler(env.svc), env, echo.New()
}

func jsonRequest(method, body string, sess *auth.Session) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sess != nil {
		req = req.WithContext(auth.WithSession(context.Background(), sess))
	}
	return req
}

func TestHandler_Admit(t *testing.T) {
	h, env, e := newTestHandler()
	body := `{"mrn":"A100","name":"Jane Doe","age":61,"gender":"F","diagnosis":"ARDS",
		"bed_number":"12","history":"COPD","examination":"Tachypnoeic"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body, env.doctor), rec)

	if err := h.Admit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var p Patient
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.MRN != "A100" || p.Condition != ConditionActive {
		t.Errorf("unexpected patient %+v", p)
	}
}

func TestHandler_Admit_Validation(t *testing.T) {
	h, env, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPost, `{"mrn":"A100"}`, env.doctor), httptest.NewRecorder())
	if err := h.Admit(c); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandler_UpdateCondition(t *testing.T) {
	h, env, e := newTestHandler()
	p := env.mustAdmit(t, "A100", "12")

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPatch, `{"condition":"Critical"}`, env.doctor), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if err := h.UpdateCondition(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if env.store.patients[p.ID].Condition != ConditionCritical {
		t.Error("expected condition updated")
	}
}

func TestHandler_Get_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("bed-12")
	if err := h.Get(c); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandler_Discharge(t *testing.T) {
	h, env, e := newTestHandler()
	p := env.mustAdmit(t, "A100", "12")

	body := `{"discharge_diagnosis":"Recovered","discharge_summary":"Extubated day 3","discharge_condition":"Improved"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, body, env.doctor), rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if err := h.Discharge(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var res DischargeResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Patient == nil || res.Patient.DischargeStatus != StatusDischarged {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHandler_Discharges_BadRange(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?start=2024-05-10&end=2024-05-01", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if err := h.Discharges(c); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandler_List(t *testing.T) {
	h, env, e := newTestHandler()
	env.mustAdmit(t, "A100", "12")
	env.mustAdmit(t, "A200", "14")

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=10", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":2`) {
		t.Errorf("expected 2 patients, got %s", rec.Body.String())
	}
}
