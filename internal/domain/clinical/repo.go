package clinical

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lists are ordered most recent first.

type VitalsRepository interface {
	Create(ctx context.Context, v *Vitals) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Vitals, error)
}

type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Medication, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status MedicationStatus, endDate *time.Time) error
	// CloseActive completes every active medication of a patient.
	CloseActive(ctx context.Context, patientID uuid.UUID, at time.Time) (int64, error)
}

type LabRepository interface {
	Create(ctx context.Context, l *LabResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, error)
	// Latest returns the patient's most recent result for a test type, or nil.
	Latest(ctx context.Context, patientID uuid.UUID, testType string) (*LabResult, error)
	Acknowledge(ctx context.Context, id, by uuid.UUID, at time.Time) error
	ReferenceRanges(ctx context.Context) ([]*ReferenceRange, error)
	// ReferenceRange returns the range for a test type, or nil.
	ReferenceRange(ctx context.Context, testType string) (*ReferenceRange, error)
}

type ProcedureRepository interface {
	Create(ctx context.Context, p *Procedure) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Procedure, error)
}

type NoteRepository interface {
	Create(ctx context.Context, n *ProgressNote) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ProgressNote, error)
}
