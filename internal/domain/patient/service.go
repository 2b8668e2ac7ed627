package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/domain/notification"
	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
	"github.com/icu/icu/internal/platform/db"
	"github.com/icu/icu/internal/platform/reconcile"
	"github.com/icu/icu/internal/platform/telemetry"
)

// TaskQueue queues housekeeping inside a transaction and runs it after commit.
type TaskQueue interface {
	Enqueue(ctx context.Context, kind string, payload interface{}) (*reconcile.Task, error)
	RunNow(ctx context.Context, ids ...string) []reconcile.Result
}

// Options tune the lifecycle rules.
type Options struct {
	ReadmissionWindow    time.Duration
	DischargedVisibleFor time.Duration
}

// DefaultOptions returns the unit's standard windows.
func DefaultOptions() Options {
	return Options{
		ReadmissionWindow:    30 * 24 * time.Hour,
		DischargedVisibleFor: 24 * time.Hour,
	}
}

// Service is the patient lifecycle manager: admission, condition and
// discharge-status updates, and discharge.
type Service struct {
	patients   PatientRepository
	episodes   EpisodeRepository
	discharges DischargeRepository
	tx         db.Transactor
	tasks      TaskQueue
	opts       Options
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(patients PatientRepository, episodes EpisodeRepository, discharges DischargeRepository,
	tx db.Transactor, tasks TaskQueue, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		patients:   patients,
		episodes:   episodes,
		discharges: discharges,
		tx:         tx,
		tasks:      tasks,
		opts:       opts,
		logger:     logger.With().Str("component", "patient").Logger(),
		now:        time.Now,
	}
}

// -- Admission --

func validateAdmit(in *AdmitInput) error {
	in.MRN = strings.TrimSpace(in.MRN)
	in.Name = strings.TrimSpace(in.Name)
	in.BedNumber = strings.TrimSpace(in.BedNumber)
	details := map[string]string{}
	required := map[string]string{
		"mrn":         in.MRN,
		"name":        in.Name,
		"gender":      strings.TrimSpace(in.Gender),
		"diagnosis":   strings.TrimSpace(in.Diagnosis),
		"bed_number":  in.BedNumber,
		"history":     strings.TrimSpace(in.History),
		"examination": strings.TrimSpace(in.Examination),
	}
	for field, v := range required {
		if v == "" {
			details[field] = "required"
		}
	}
	if in.Age < 0 || in.Age > 150 {
		details["age"] = "must be between 0 and 150"
	}
	if len(details) > 0 {
		return apperr.Validation("invalid admission", details)
	}
	return nil
}

// Admit creates a patient, or readmits a discharged one with the same MRN,
// and opens an active episode on the requested bed.
func (s *Service) Admit(ctx context.Context, sess *auth.Session, in AdmitInput) (*Patient, error) {
	if err := validateAdmit(&in); err != nil {
		return nil, err
	}
	attending := uuid.Nil
	switch {
	case in.AttendingPhysicianID != nil:
		attending = *in.AttendingPhysicianID
	case sess != nil:
		attending = sess.UserID
	}
	if attending == uuid.Nil {
		return nil, apperr.Validation("invalid admission", map[string]string{"attending_physician_id": "required"})
	}
	admittedAt := s.now()
	if in.AdmissionDate != nil {
		admittedAt = *in.AdmissionDate
	}

	// Fast path for the common conflict; the unique indexes settle races.
	occupant, err := s.episodes.ActiveOnBed(ctx, in.BedNumber)
	if err != nil {
		return nil, apperr.Remote(err, "could not check bed occupancy")
	}
	if occupant != nil {
		return nil, apperr.BedOccupied(in.BedNumber)
	}

	var (
		p  *Patient
		ep *Episode
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.patients.GetByMRN(ctx, in.MRN)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		if existing != nil && !existing.IsDischarged() {
			return apperr.Conflict(apperr.CodeAlreadyAdmitted, "patient is already admitted")
		}

		p = existing
		if p == nil {
			p = &Patient{MRN: in.MRN}
		}
		p.Name = in.Name
		p.Age = in.Age
		p.Gender = strings.TrimSpace(in.Gender)
		p.Diagnosis = strings.TrimSpace(in.Diagnosis)
		p.BedNumber = in.BedNumber
		p.Condition = ConditionActive
		p.DischargeStatus = StatusAdmitted
		p.AdmissionDate = admittedAt
		p.AttendingPhysicianID = attending
		p.History = in.History
		p.Examination = in.Examination
		p.Notes = in.Notes

		if existing == nil {
			err = s.patients.Create(ctx, p)
		} else {
			err = s.patients.Readmit(ctx, p)
		}
		if err != nil {
			return err
		}

		ep = &Episode{
			PatientID:            p.ID,
			AdmissionDate:        admittedAt,
			PrimaryDiagnosis:     p.Diagnosis,
			AttendingPhysicianID: attending,
			BedNumber:            p.BedNumber,
			Status:               EpisodeActive,
		}
		if existing != nil {
			prev, err := s.episodes.LatestDischarged(ctx, p.ID)
			if err != nil {
				return err
			}
			s.linkReadmission(ep, prev, in.ReadmissionReason)
		}
		return s.episodes.Create(ctx, ep)
	})
	if err != nil {
		return nil, err
	}

	telemetry.RecordAdmission(ep.IsReadmission)
	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Str("bed_number", p.BedNumber).
		Bool("readmission", ep.IsReadmission).
		Msg("patient admitted")
	return p, nil
}

// linkReadmission points ep at the previous stay. The readmission flag and
// reason are only set when the gap is inside the readmission window.
func (s *Service) linkReadmission(ep, prev *Episode, reason string) {
	if prev == nil || prev.DischargeDate == nil {
		return
	}
	ep.PreviousEpisodeID = &prev.ID
	gap := ep.AdmissionDate.Sub(*prev.DischargeDate)
	if gap < 0 || gap > s.opts.ReadmissionWindow {
		return
	}
	ep.IsReadmission = true
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = fmt.Sprintf("Readmitted within %d days of previous discharge", int(s.opts.ReadmissionWindow.Hours()/24))
	}
	ep.ReadmissionReason = &reason
}

// -- Status updates --

// UpdateCondition sets the patient's condition. Setting the current value
// performs no write.
func (s *Service) UpdateCondition(ctx context.Context, id uuid.UUID, c Condition) (*Patient, error) {
	if !c.Valid() {
		return nil, apperr.Validation("invalid condition", map[string]string{"condition": "must be Active, Critical or DNR"})
	}
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Condition == c {
		return p, nil
	}
	if p.IsDischarged() {
		return nil, apperr.Conflict(apperr.CodePatientDischarged, "patient has been discharged")
	}
	if err := s.patients.UpdateCondition(ctx, id, c); err != nil {
		return nil, err
	}
	p.Condition = c
	return p, nil
}

// UpdateDischargeStatus moves the patient between Admitted, Pending and
// Discharged. Discharged is terminal, and reaching it closes the active
// episode so the bed is freed.
func (s *Service) UpdateDischargeStatus(ctx context.Context, id uuid.UUID, status DischargeStatus) (*Patient, error) {
	if !status.Valid() {
		return nil, apperr.Validation("invalid discharge status",
			map[string]string{"discharge_status": "must be Admitted, Pending or Discharged"})
	}
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DischargeStatus == status {
		return p, nil
	}
	if p.IsDischarged() {
		return nil, apperr.Conflict(apperr.CodeInvalidTransition, "a discharged patient cannot change discharge status")
	}

	if status != StatusDischarged {
		if err := s.patients.UpdateDischargeStatus(ctx, id, status, nil); err != nil {
			return nil, err
		}
		p.DischargeStatus = status
		return p, nil
	}

	at := s.now()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.patients.UpdateDischargeStatus(ctx, id, status, &at); err != nil {
			return err
		}
		ep, err := s.episodes.Active(ctx, id)
		if err != nil {
			return err
		}
		if ep != nil {
			return s.episodes.Close(ctx, ep.ID, at)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.DischargeStatus = status
	p.DischargeDate = &at
	return p, nil
}

// -- Reads --

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// List returns the census: patients still in the unit plus those discharged
// within the visibility window.
func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	if f.Condition != "" && !f.Condition.Valid() {
		return nil, 0, apperr.Validation("invalid condition filter", map[string]string{"condition": string(f.Condition)})
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid status filter", map[string]string{"status": string(f.Status)})
	}
	if f.VisibleSince.IsZero() {
		f.VisibleSince = s.now().Add(-s.opts.DischargedVisibleFor)
	}
	return s.patients.List(ctx, f, limit, offset)
}

func (s *Service) Episodes(ctx context.Context, patientID uuid.UUID) ([]*Episode, error) {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	return s.episodes.ListByPatient(ctx, patientID)
}

// CurrentEpisode returns the latest episode and the one it follows.
func (s *Service) CurrentEpisode(ctx context.Context, patientID uuid.UUID) (*EpisodeView, error) {
	eps, err := s.Episodes(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, apperr.NotFound("admission episode", patientID.String())
	}
	view := &EpisodeView{Current: eps[0]}
	if prevID := eps[0].PreviousEpisodeID; prevID != nil {
		for _, e := range eps[1:] {
			if e.ID == *prevID {
				view.Previous = e
				break
			}
		}
	}
	if view.Previous != nil && view.Previous.DischargeDate != nil {
		days := int(view.Current.AdmissionDate.Sub(*view.Previous.DischargeDate).Hours() / 24)
		view.DaysSinceDischarge = &days
	}
	return view, nil
}

// Discharges returns discharge history in a date range.
func (s *Service) Discharges(ctx context.Context, start, end time.Time, limit, offset int) ([]*Discharge, int, error) {
	if end.Before(start) {
		return nil, 0, apperr.Validation("invalid range", map[string]string{"end": "must not be before start"})
	}
	return s.discharges.ListBetween(ctx, start, end, limit, offset)
}

func (s *Service) PatientDischarges(ctx context.Context, patientID uuid.UUID) ([]*Discharge, error) {
	return s.discharges.ListByPatient(ctx, patientID)
}

// Recipient implements notification.PatientDirectory.
func (s *Service) Recipient(ctx context.Context, patientID uuid.UUID) (*notification.Recipient, error) {
	p, err := s.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return &notification.Recipient{PatientID: p.ID, PatientName: p.Name, AttendingID: p.AttendingPhysicianID}, nil
}
