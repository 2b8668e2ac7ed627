package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	// Readmit rewrites a discharged patient's row for a new stay.
	Readmit(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByMRN(ctx context.Context, mrn string) (*Patient, error)
	UpdateCondition(ctx context.Context, id uuid.UUID, c Condition) error
	UpdateDischargeStatus(ctx context.Context, id uuid.UUID, s DischargeStatus, dischargeDate *time.Time) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error)
}

type EpisodeRepository interface {
	Create(ctx context.Context, e *Episode) error
	// ActiveOnBed returns the active episode occupying bed, or nil.
	ActiveOnBed(ctx context.Context, bed string) (*Episode, error)
	// Active returns the patient's active episode, or nil.
	Active(ctx context.Context, patientID uuid.UUID) (*Episode, error)
	// LatestDischarged returns the patient's most recently discharged episode, or nil.
	LatestDischarged(ctx context.Context, patientID uuid.UUID) (*Episode, error)
	Close(ctx context.Context, id uuid.UUID, at time.Time) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Episode, error)
}

type DischargeRepository interface {
	Create(ctx context.Context, d *Discharge) error
	ListBetween(ctx context.Context, start, end time.Time, limit, offset int) ([]*Discharge, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Discharge, error)
}
