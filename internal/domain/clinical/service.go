package clinical

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/domain/patient"
	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
	"github.com/icu/icu/internal/platform/telemetry"
)

// PatientLookup resolves the owner of a clinical entry.
type PatientLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// Repos groups the clinical repositories.
type Repos struct {
	Vitals      VitalsRepository
	Medications MedicationRepository
	Labs        LabRepository
	Procedures  ProcedureRepository
	Notes       NoteRepository
}

// Service records clinical entries against admitted patients. Entries are
// immutable apart from medication status and lab acknowledgement.
type Service struct {
	repos    Repos
	patients PatientLookup
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repos Repos, patients PatientLookup, logger zerolog.Logger) *Service {
	return &Service{
		repos:    repos,
		patients: patients,
		logger:   logger.With().Str("component", "clinical").Logger(),
		now:      time.Now,
	}
}

// writable loads the patient and rejects entries once they are discharged.
func (s *Service) writable(ctx context.Context, patientID uuid.UUID) (*patient.Patient, error) {
	p, err := s.patients.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if p.IsDischarged() {
		return nil, apperr.Conflict(apperr.CodePatientDischarged, "patient has been discharged")
	}
	return p, nil
}

func (s *Service) readable(ctx context.Context, patientID uuid.UUID) error {
	_, err := s.patients.Get(ctx, patientID)
	return err
}

func author(sess *auth.Session) *uuid.UUID {
	if sess == nil || sess.UserID == uuid.Nil {
		return nil
	}
	id := sess.UserID
	return &id
}

func required(details map[string]string, fields map[string]string) {
	for field, v := range fields {
		if strings.TrimSpace(v) == "" {
			details[field] = "required"
		}
	}
}

// -- Vitals --

func validateVitals(v *Vitals) error {
	details := map[string]string{}
	required(details, map[string]string{"blood_pressure": v.BloodPressure})
	if v.HeartRate <= 0 || v.HeartRate > 300 {
		details["heart_rate"] = "must be between 1 and 300"
	}
	if v.Temperature < 25 || v.Temperature > 45 {
		details["temperature"] = "must be between 25 and 45"
	}
	if v.OxygenSaturation < 0 || v.OxygenSaturation > 100 {
		details["oxygen_saturation"] = "must be between 0 and 100"
	}
	if v.RespiratoryRate < 0 || v.RespiratoryRate > 100 {
		details["respiratory_rate"] = "must be between 0 and 100"
	}
	if len(details) > 0 {
		return apperr.Validation("invalid vitals", details)
	}
	return nil
}

// RecordVitals stores a vitals recording. Readings above the alert limits are
// counted and logged; clients raise their own alerts from the feed.
func (s *Service) RecordVitals(ctx context.Context, sess *auth.Session, patientID uuid.UUID, v *Vitals) (*Vitals, error) {
	if err := validateVitals(v); err != nil {
		return nil, err
	}
	if _, err := s.writable(ctx, patientID); err != nil {
		return nil, err
	}
	v.PatientID = patientID
	v.RecordedBy = author(sess)
	if v.RecordedAt.IsZero() {
		v.RecordedAt = s.now()
	}
	if err := s.repos.Vitals.Create(ctx, v); err != nil {
		return nil, err
	}
	if ExceedsVitalThresholds(v) {
		telemetry.RecordVitalsAlert()
		s.logger.Warn().
			Str("patient_id", patientID.String()).
			Strs("alerts", Alerts(v)).
			Msg("vitals outside alert thresholds")
	}
	return v, nil
}

func (s *Service) ListVitals(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Vitals, error) {
	if err := s.readable(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repos.Vitals.ListByPatient(ctx, patientID, limit, offset)
}

// -- Medications --

func validateMedication(m *Medication) error {
	details := map[string]string{}
	required(details, map[string]string{
		"name":      m.Name,
		"dosage":    m.Dosage,
		"route":     m.Route,
		"frequency": m.Frequency,
	})
	if m.Status != "" && !m.Status.Valid() {
		details["status"] = "must be Active, Completed or Discontinued"
	}
	if len(details) > 0 {
		return apperr.Validation("invalid medication", details)
	}
	return nil
}

func (s *Service) Prescribe(ctx context.Context, sess *auth.Session, patientID uuid.UUID, m *Medication) (*Medication, error) {
	if err := validateMedication(m); err != nil {
		return nil, err
	}
	if _, err := s.writable(ctx, patientID); err != nil {
		return nil, err
	}
	m.PatientID = patientID
	m.PrescribedBy = author(sess)
	if m.Status == "" {
		m.Status = MedicationActive
	}
	if m.StartDate.IsZero() {
		m.StartDate = s.now()
	}
	if err := s.repos.Medications.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) ListMedications(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Medication, error) {
	if err := s.readable(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repos.Medications.ListByPatient(ctx, patientID, limit, offset)
}

// UpdateMedicationStatus sets a medication's status. Leaving Active stamps
// the end date, returning to Active clears it. Setting the current status
// performs no write.
func (s *Service) UpdateMedicationStatus(ctx context.Context, id uuid.UUID, status MedicationStatus) (*Medication, error) {
	if !status.Valid() {
		return nil, apperr.Validation("invalid medication status",
			map[string]string{"status": "must be Active, Completed or Discontinued"})
	}
	m, err := s.repos.Medications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == status {
		return m, nil
	}
	if _, err := s.writable(ctx, m.PatientID); err != nil {
		return nil, err
	}
	var end *time.Time
	if status != MedicationActive {
		at := s.now()
		end = &at
	}
	if err := s.repos.Medications.UpdateStatus(ctx, id, status, end); err != nil {
		return nil, err
	}
	m.Status = status
	m.EndDate = end
	return m, nil
}

// CloseActive completes every active medication of a patient. Running it
// again finds nothing to close.
func (s *Service) CloseActive(ctx context.Context, patientID uuid.UUID, at time.Time) (int64, error) {
	n, err := s.repos.Medications.CloseActive(ctx, patientID, at)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Str("patient_id", patientID.String()).Int64("count", n).Msg("closed active medications")
	}
	return n, nil
}

// -- Lab results --

func validateLab(l *LabResult) error {
	details := map[string]string{}
	required(details, map[string]string{
		"test_type": l.TestType,
		"test_name": l.TestName,
		"result":    l.Result,
	})
	if _, ok := LabCatalog[l.Category]; !ok {
		details["category"] = "must be Hematology, Chemistry, Microbiology or Other"
	} else if l.TestType != "" && !InCatalog(l.Category, l.TestType) {
		details["test_type"] = fmt.Sprintf("not a %s test", l.Category)
	}
	if l.Status != "" && !l.Status.Valid() {
		details["status"] = "must be Normal, Abnormal or Critical"
	}
	if len(details) > 0 {
		return apperr.Validation("invalid lab result", details)
	}
	return nil
}

func numeric(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

// RecordLab stores a lab result. The previous result of the same test is
// carried with its delta, and a missing status is derived from the test's
// reference range when the result is numeric.
func (s *Service) RecordLab(ctx context.Context, sess *auth.Session, patientID uuid.UUID, l *LabResult) (*LabResult, error) {
	if err := validateLab(l); err != nil {
		return nil, err
	}
	if _, err := s.writable(ctx, patientID); err != nil {
		return nil, err
	}
	l.PatientID = patientID
	l.OrderedBy = author(sess)
	if l.ResultedAt.IsZero() {
		l.ResultedAt = s.now()
	}

	prev, err := s.repos.Labs.Latest(ctx, patientID, l.TestType)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		pr := prev.Result
		l.PreviousResult = &pr
		cur, ok1 := numeric(l.Result)
		old, ok2 := numeric(pr)
		if ok1 && ok2 {
			d := math.Round((cur-old)*100) / 100
			l.Delta = &d
		}
	}

	rr, err := s.repos.Labs.ReferenceRange(ctx, l.TestType)
	if err != nil {
		return nil, err
	}
	applyRange(l, rr)
	if l.Status == "" {
		return nil, apperr.Validation("invalid lab result", map[string]string{"status": "required"})
	}

	if err := s.repos.Labs.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// applyRange fills unit, range text and status from rr where the caller left
// them empty.
func applyRange(l *LabResult, rr *ReferenceRange) {
	if rr == nil {
		return
	}
	if l.Unit == nil && rr.Unit != nil {
		u := *rr.Unit
		l.Unit = &u
	}
	if l.ReferenceRange == nil {
		if text := rr.String(); text != "" {
			l.ReferenceRange = &text
		}
	}
	if l.Status == "" {
		if v, ok := numeric(l.Result); ok {
			if rr.Contains(v) {
				l.Status = LabNormal
			} else {
				l.Status = LabAbnormal
			}
		}
	}
}

func (s *Service) ListLabs(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, error) {
	if err := s.readable(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repos.Labs.ListByPatient(ctx, patientID, limit, offset)
}

// AcknowledgeLab records that a clinician has seen a result. The first
// acknowledgement wins.
func (s *Service) AcknowledgeLab(ctx context.Context, sess *auth.Session, id uuid.UUID) (*LabResult, error) {
	if sess == nil {
		return nil, apperr.Unauthenticated("session required")
	}
	l, err := s.repos.Labs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.AcknowledgedAt != nil {
		return l, nil
	}
	at := s.now()
	if err := s.repos.Labs.Acknowledge(ctx, id, sess.UserID, at); err != nil {
		return nil, err
	}
	by := sess.UserID
	l.AcknowledgedBy = &by
	l.AcknowledgedAt = &at
	return l, nil
}

func (s *Service) ReferenceRanges(ctx context.Context) ([]*ReferenceRange, error) {
	return s.repos.Labs.ReferenceRanges(ctx)
}

// -- Procedures --

func validateProcedure(p *Procedure) error {
	details := map[string]string{}
	required(details, map[string]string{"name": p.Name, "category": p.Category})
	if !p.Outcome.Valid() {
		details["outcome"] = "must be Successful, Partially Successful, Unsuccessful or Abandoned"
	}
	if len(details) > 0 {
		return apperr.Validation("invalid procedure", details)
	}
	return nil
}

func (s *Service) RecordProcedure(ctx context.Context, sess *auth.Session, patientID uuid.UUID, p *Procedure) (*Procedure, error) {
	if err := validateProcedure(p); err != nil {
		return nil, err
	}
	if _, err := s.writable(ctx, patientID); err != nil {
		return nil, err
	}
	p.PatientID = patientID
	p.PerformerID = author(sess)
	if p.PerformedAt.IsZero() {
		p.PerformedAt = s.now()
	}
	if err := s.repos.Procedures.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListProcedures(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Procedure, error) {
	if err := s.readable(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repos.Procedures.ListByPatient(ctx, patientID, limit, offset)
}

// -- Progress notes --

func validateNote(n *ProgressNote) error {
	details := map[string]string{}
	required(details, map[string]string{
		"subjective": n.Subjective,
		"objective":  n.Objective,
		"assessment": n.Assessment,
		"plan":       n.Plan,
	})
	if len(details) > 0 {
		return apperr.Validation("invalid progress note", details)
	}
	return nil
}

func (s *Service) WriteNote(ctx context.Context, sess *auth.Session, patientID uuid.UUID, n *ProgressNote) (*ProgressNote, error) {
	if err := validateNote(n); err != nil {
		return nil, err
	}
	if _, err := s.writable(ctx, patientID); err != nil {
		return nil, err
	}
	n.PatientID = patientID
	n.CreatedBy = author(sess)
	if n.NoteDate.IsZero() {
		n.NoteDate = s.now()
	}
	if err := s.repos.Notes.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) ListNotes(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ProgressNote, error) {
	if err := s.readable(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repos.Notes.ListByPatient(ctx, patientID, limit, offset)
}
