package report

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/icu/icu/internal/domain/clinical"
	"github.com/icu/icu/internal/domain/patient"
	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/pkg/daterange"
)

// mockRepo filters a fixed record set by each row's date field.
type mockRepo struct {
	all      RecordSet
	episodes []EpisodeRow
	calls    []daterange.Range
	err      error
}

func (m *mockRepo) Load(_ context.Context, r daterange.Range) (*RecordSet, error) {
	m.calls = append(m.calls, r)
	if m.err != nil {
		return nil, m.err
	}
	rs := &RecordSet{}
	for _, p := range m.all.Patients {
		if r.Contains(p.AdmissionDate) {
			rs.Patients = append(rs.Patients, p)
		}
	}
	for _, p := range m.all.Procedures {
		if r.Contains(p.CreatedAt) {
			rs.Procedures = append(rs.Procedures, p)
		}
	}
	return rs, nil
}

func (m *mockRepo) Episodes(_ context.Context, r daterange.Range) ([]EpisodeRow, error) {
	return m.episodes, m.err
}

func newTestService(repo *mockRepo) *Service {
	svc := NewService(repo, 10, 30*day, zerolog.Nop())
	svc.now = func() time.Time { return now }
	return svc
}

func TestService_Comparison_UsesPreviousPeriod(t *testing.T) {
	repo := &mockRepo{all: RecordSet{Patients: []*patient.Patient{
		admitted("A", "Sepsis", patient.ConditionActive, now.Add(-2*day)),
		admitted("B", "Sepsis", patient.ConditionActive, now.Add(-3*day)),
		admitted("C", "ARDS", patient.ConditionActive, now.Add(-40*day)),
	}}}
	svc := newTestService(repo)

	cmp, err := svc.Comparison(context.Background(), rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.calls) != 2 || !repo.calls[1].End.Before(rng.Start) {
		t.Fatalf("expected a second load before %v, got %+v", rng.Start, repo.calls)
	}
	if cmp.Current.TotalPatients != 2 || cmp.Previous.TotalPatients != 1 {
		t.Errorf("unexpected metrics %+v / %+v", cmp.Current, cmp.Previous)
	}
	if cmp.Changes.TotalPatients != 100 {
		t.Errorf("expected +100%%, got %v", cmp.Changes.TotalPatients)
	}
}

func TestService_Report_StoreFailure(t *testing.T) {
	svc := newTestService(&mockRepo{err: errors.New("connection refused")})
	_, err := svc.Report(context.Background(), rng)
	if !apperr.Is(err, apperr.KindRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestExportXLSX_Sheets(t *testing.T) {
	rs := RecordSet{
		Patients:   []*patient.Patient{admitted("Jane Doe", "Sepsis", patient.ConditionCritical, now)},
		Procedures: []*clinical.Procedure{{Name: "Intubation"}},
	}
	data, err := ExportXLSX(Compute(rs, rng, opts))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("could not open workbook: %v", err)
	}
	defer f.Close()

	want := map[string]bool{"Summary": true, "Patients": true, "Procedures": true, "Diagnoses": true}
	for _, name := range f.GetSheetList() {
		delete(want, name)
	}
	if len(want) != 0 {
		t.Errorf("missing sheets %v", want)
	}
	if v, _ := f.GetCellValue("Patients", "B2"); v != "Jane Doe" {
		t.Errorf("expected patient name in B2, got %q", v)
	}
	if v, _ := f.GetCellValue("Summary", "B5"); v != "1" {
		t.Errorf("expected total patients 1, got %q", v)
	}
}

func TestHandler_Export(t *testing.T) {
	h := NewHandler(newTestService(&mockRepo{}))
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/reports/export.xlsx?start=2026-05-01&end=2026-05-20", nil), rec)

	if err := h.Export(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != XLSXContentType {
		t.Errorf("unexpected content type %q", ct)
	}
	if rec.Header().Get(echo.HeaderContentDisposition) != "attachment; filename=ICU-Report-2026-05-20.xlsx" {
		t.Errorf("unexpected disposition %q", rec.Header().Get(echo.HeaderContentDisposition))
	}
}

func TestHandler_Report_InvalidRange(t *testing.T) {
	h := NewHandler(newTestService(&mockRepo{}))
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/reports?start=2026-05-20&end=2026-05-01", nil), httptest.NewRecorder())
	if err := h.Report(c); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
