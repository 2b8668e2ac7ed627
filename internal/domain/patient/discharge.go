package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/icu/icu/internal/domain/notification"
	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
	"github.com/icu/icu/internal/platform/reconcile"
	"github.com/icu/icu/internal/platform/telemetry"
)

// Housekeeping task kinds queued by a discharge.
const (
	TaskCloseMedications      = "close_medications"
	TaskDischargeNotification = "discharge_notification"
)

// CloseMedicationsPayload asks for every active medication of a patient to
// be completed.
type CloseMedicationsPayload struct {
	PatientID uuid.UUID `json:"patient_id"`
	At        time.Time `json:"at"`
}

// DischargeNotificationPayload describes who to tell about a discharge.
type DischargeNotificationPayload struct {
	DischargeID  uuid.UUID          `json:"discharge_id"`
	PatientID    uuid.UUID          `json:"patient_id"`
	PatientName  string             `json:"patient_name"`
	Condition    DischargeCondition `json:"condition"`
	DischargedBy uuid.UUID          `json:"discharged_by"`
	AttendingID  uuid.UUID          `json:"attending_id"`
}

// MedicationCloser completes a patient's active medications.
type MedicationCloser interface {
	CloseActive(ctx context.Context, patientID uuid.UUID, at time.Time) (int64, error)
}

// Notifier stores notifications.
type Notifier interface {
	Notify(ctx context.Context, n *notification.Notification) error
}

func validateDischarge(in *DischargeInput) error {
	in.DischargeDiagnosis = strings.TrimSpace(in.DischargeDiagnosis)
	in.DischargeSummary = strings.TrimSpace(in.DischargeSummary)
	details := map[string]string{}
	if in.PatientID == uuid.Nil {
		details["patient_id"] = "required"
	}
	if in.DischargeDiagnosis == "" {
		details["discharge_diagnosis"] = "required"
	}
	if in.DischargeSummary == "" {
		details["discharge_summary"] = "required"
	}
	if !in.DischargeCondition.Valid() {
		details["discharge_condition"] = "must be Improved or Died"
	}
	if len(details) > 0 {
		return apperr.Validation("invalid discharge", details)
	}
	return nil
}

func optional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// Discharge records the discharge and marks the patient Discharged in one
// transaction, queueing medication closure and the discharge notification
// in the same commit. The queued tasks then run once inline; a failure
// there leaves the discharge committed and the task queued for the worker.
func (s *Service) Discharge(ctx context.Context, sess *auth.Session, in DischargeInput) (*DischargeResult, error) {
	if err := validateDischarge(&in); err != nil {
		return nil, err
	}
	at := s.now()
	if in.DischargeDate != nil {
		at = *in.DischargeDate
	}

	var (
		p       *Patient
		d       *Discharge
		taskIDs []string
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.patients.GetForUpdate(ctx, in.PatientID)
		if err != nil {
			return err
		}
		if p.IsDischarged() {
			return apperr.Conflict(apperr.CodePatientDischarged, "patient has already been discharged")
		}
		if at.Before(p.AdmissionDate) {
			return apperr.Validation("invalid discharge", map[string]string{"discharge_date": "must not be before admission"})
		}
		ep, err := s.episodes.Active(ctx, p.ID)
		if err != nil {
			return err
		}

		d = &Discharge{
			PatientID:            p.ID,
			DischargeDate:        at,
			DischargeDiagnosis:   in.DischargeDiagnosis,
			DischargeSummary:     in.DischargeSummary,
			DischargeMedications: optional(in.DischargeMedications),
			FollowUpInstructions: optional(in.FollowUpInstructions),
			DischargeCondition:   in.DischargeCondition,
			PatientName:          p.Name,
			PatientMRN:           p.MRN,
		}
		if ep != nil {
			d.EpisodeID = &ep.ID
		}
		if sess != nil {
			d.DischargedBy = &sess.UserID
		}
		if err := s.discharges.Create(ctx, d); err != nil {
			return err
		}
		if err := s.patients.UpdateDischargeStatus(ctx, p.ID, StatusDischarged, &at); err != nil {
			return err
		}
		if ep != nil {
			if err := s.episodes.Close(ctx, ep.ID, at); err != nil {
				return err
			}
		}

		meds, err := s.tasks.Enqueue(ctx, TaskCloseMedications, CloseMedicationsPayload{PatientID: p.ID, At: at})
		if err != nil {
			return err
		}
		notice := DischargeNotificationPayload{
			DischargeID: d.ID,
			PatientID:   p.ID,
			PatientName: p.Name,
			Condition:   d.DischargeCondition,
			AttendingID: p.AttendingPhysicianID,
		}
		if d.DischargedBy != nil {
			notice.DischargedBy = *d.DischargedBy
		}
		note, err := s.tasks.Enqueue(ctx, TaskDischargeNotification, notice)
		if err != nil {
			return err
		}
		taskIDs = []string{meds.ID, note.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.DischargeStatus = StatusDischarged
	p.DischargeDate = &at
	telemetry.RecordDischarge(string(d.DischargeCondition))
	res := &DischargeResult{Discharge: d, Patient: p}

	for _, r := range s.tasks.RunNow(ctx, taskIDs...) {
		if r.Err == nil {
			continue
		}
		s.logger.Warn().Err(r.Err).
			Str("patient_id", p.ID.String()).
			Str("task_id", r.TaskID).
			Str("task", r.Kind).
			Msg("discharge housekeeping deferred")
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s deferred: %v", r.Kind, r.Err))
	}

	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Str("discharge_id", d.ID.String()).
		Str("condition", string(d.DischargeCondition)).
		Msg("patient discharged")
	return res, nil
}

// RegisterTasks binds the discharge housekeeping handlers to a runner.
// Both handlers are idempotent.
func RegisterTasks(r *reconcile.Runner, meds MedicationCloser, notifier Notifier) {
	r.Register(TaskCloseMedications, CloseMedicationsTask(meds))
	r.Register(TaskDischargeNotification, DischargeNotificationTask(notifier))
}

func CloseMedicationsTask(meds MedicationCloser) reconcile.Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var p CloseMedicationsPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", TaskCloseMedications, err)
		}
		_, err := meds.CloseActive(ctx, p.PatientID, p.At)
		return err
	}
}

// DischargeNotificationTask notifies the discharging user and, when
// different, the attending physician. Died discharges are critical.
func DischargeNotificationTask(notifier Notifier) reconcile.Handler {
	return func(ctx context.Context, raw json.RawMessage) error {
		var p DischargeNotificationPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", TaskDischargeNotification, err)
		}
		sev := notification.SeverityInfo
		if p.Condition == DischargeDied {
			sev = notification.SeverityCritical
		}

		var recipients []uuid.UUID
		for _, id := range []uuid.UUID{p.DischargedBy, p.AttendingID} {
			if id == uuid.Nil || (len(recipients) > 0 && recipients[0] == id) {
				continue
			}
			recipients = append(recipients, id)
		}
		for _, uid := range recipients {
			pid := p.PatientID
			n := &notification.Notification{
				Type:      notification.TypeDischarge,
				Message:   fmt.Sprintf("Patient %s has been discharged", p.PatientName),
				Severity:  sev,
				UserID:    uid,
				PatientID: &pid,
			}
			n.WithDedupeKey("discharge:" + p.DischargeID.String() + ":" + uid.String())
			if err := notifier.Notify(ctx, n); err != nil {
				return err
			}
		}
		return nil
	}
}
