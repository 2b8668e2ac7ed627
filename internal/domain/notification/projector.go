package notification

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/platform/feed"
)

// Recipient is who hears about changes to a patient.
type Recipient struct {
	PatientID   uuid.UUID
	PatientName string
	AttendingID uuid.UUID
}

// PatientDirectory resolves the attending physician of a patient.
type PatientDirectory interface {
	Recipient(ctx context.Context, patientID uuid.UUID) (*Recipient, error)
}

const projectTimeout = 5 * time.Second

// Projector is a feed sink that derives notifications from row changes.
// Every notification carries the source event id as its dedupe key, so
// redelivery and multiple server instances produce one row.
type Projector struct {
	svc      *Service
	patients PatientDirectory
	logger   zerolog.Logger
}

func NewProjector(svc *Service, patients PatientDirectory, logger zerolog.Logger) *Projector {
	return &Projector{
		svc:      svc,
		patients: patients,
		logger:   logger.With().Str("component", "notification_projector").Logger(),
	}
}

// Handle implements feed.Sink.
func (p *Projector) Handle(ctx context.Context, ev feed.Event) {
	ctx, cancel := context.WithTimeout(ctx, projectTimeout)
	defer cancel()

	n, err := p.Project(ctx, ev)
	if err != nil {
		p.logger.Error().Err(err).Str("event_id", ev.ID).Msg("project notification")
		return
	}
	if n == nil {
		return
	}
	if err := p.svc.Notify(ctx, n); err != nil {
		p.logger.Error().Err(err).Str("event_id", ev.ID).Msg("store notification")
	}
}

// Project returns the notification an event implies, or nil.
func (p *Projector) Project(ctx context.Context, ev feed.Event) (*Notification, error) {
	switch {
	case ev.Table == feed.TablePatient && ev.Type == feed.Update:
		return p.patientChanged(ev), nil
	case ev.Table == feed.TableMedication && ev.Type == feed.Update:
		status := ev.Field("status")
		if len(ev.Old) == 0 || status == ev.OldField("status") {
			return nil, nil
		}
		return p.forPatient(ctx, ev, TypeMedication, SeverityInfo,
			"Medication "+ev.Field("name")+" "+strings.ToLower(status))
	case ev.Table == feed.TableProcedure && ev.Type == feed.Insert:
		sev := SeverityInfo
		if ev.Field("outcome") == "Unsuccessful" {
			sev = SeverityWarning
		}
		return p.forPatient(ctx, ev, TypeStatus, sev, "New procedure recorded: "+ev.Field("name"))
	case ev.Table == feed.TableLabResult && ev.Type == feed.Insert:
		sev := SeverityInfo
		if ev.Field("status") == "Critical" {
			sev = SeverityCritical
		}
		return p.forPatient(ctx, ev, TypeLab, sev,
			"New "+ev.Field("test_name")+" result: "+ev.Field("status"))
	}
	return nil, nil
}

func (p *Projector) patientChanged(ev feed.Event) *Notification {
	if len(ev.Old) == 0 {
		return nil
	}
	attending, err := uuid.Parse(ev.Field("attending_physician_id"))
	if err != nil {
		return nil
	}
	name := ev.Field("name")

	var n *Notification
	switch cond := ev.Field("condition"); {
	case cond != ev.OldField("condition"):
		sev := SeverityInfo
		if cond == "Critical" {
			sev = SeverityCritical
		}
		n = &Notification{Type: TypeStatus, Severity: sev,
			Message: "Patient " + name + " condition changed to " + cond}
	case ev.Field("discharge_status") != ev.OldField("discharge_status") && ev.Field("discharge_status") != "Discharged":
		n = &Notification{Type: TypeStatus, Severity: SeverityInfo,
			Message: "Patient " + name + " discharge status changed to " + ev.Field("discharge_status")}
	default:
		return nil
	}

	pid, err := uuid.Parse(ev.RowID)
	if err == nil {
		n.PatientID = &pid
	}
	n.UserID = attending
	return n.WithDedupeKey(dedupeKey(ev))
}

func (p *Projector) forPatient(ctx context.Context, ev feed.Event, typ Type, sev Severity, msg string) (*Notification, error) {
	pid, err := uuid.Parse(ev.Field("patient_id"))
	if err != nil {
		return nil, nil
	}
	rcpt, err := p.patients.Recipient(ctx, pid)
	if err != nil {
		return nil, err
	}
	n := &Notification{
		Type:      typ,
		Message:   msg,
		Severity:  sev,
		UserID:    rcpt.AttendingID,
		PatientID: &pid,
	}
	return n.WithDedupeKey(dedupeKey(ev)), nil
}

func dedupeKey(ev feed.Event) string {
	return feed.EventID(ev.Table, ev.RowID, ev.Version)
}
