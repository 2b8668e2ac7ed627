package clinical

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// -- Vitals --

type Vitals struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	HeartRate        int        `db:"heart_rate" json:"heart_rate"`
	BloodPressure    string     `db:"blood_pressure" json:"blood_pressure"`
	Temperature      float64    `db:"temperature" json:"temperature"`
	OxygenSaturation int        `db:"oxygen_saturation" json:"oxygen_saturation"`
	RespiratoryRate  int        `db:"respiratory_rate" json:"respiratory_rate"`
	Notes            string     `db:"notes" json:"notes"`
	RecordedBy       *uuid.UUID `db:"recorded_by" json:"recorded_by,omitempty"`
	RecordedAt       time.Time  `db:"recorded_at" json:"recorded_at"`
	Version          int64      `db:"version" json:"version"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

func (v Vitals) RecordID() string { return v.ID.String() }

func (v Vitals) RecordVersion() int64 { return v.Version }

// -- Medication --

type MedicationStatus string

const (
	MedicationActive       MedicationStatus = "Active"
	MedicationCompleted    MedicationStatus = "Completed"
	MedicationDiscontinued MedicationStatus = "Discontinued"
)

func (s MedicationStatus) Valid() bool {
	switch s {
	case MedicationActive, MedicationCompleted, MedicationDiscontinued:
		return true
	}
	return false
}

type Medication struct {
	ID           uuid.UUID        `db:"id" json:"id"`
	PatientID    uuid.UUID        `db:"patient_id" json:"patient_id"`
	Name         string           `db:"name" json:"name"`
	Dosage       string           `db:"dosage" json:"dosage"`
	Route        string           `db:"route" json:"route"`
	Frequency    string           `db:"frequency" json:"frequency"`
	Notes        string           `db:"notes" json:"notes"`
	StartDate    time.Time        `db:"start_date" json:"start_date"`
	EndDate      *time.Time       `db:"end_date" json:"end_date,omitempty"`
	Status       MedicationStatus `db:"status" json:"status"`
	PrescribedBy *uuid.UUID       `db:"prescribed_by" json:"prescribed_by,omitempty"`
	Version      int64            `db:"version" json:"version"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

func (m Medication) RecordID() string { return m.ID.String() }

func (m Medication) RecordVersion() int64 { return m.Version }

// -- Lab results --

type LabCategory string

const (
	LabHematology   LabCategory = "Hematology"
	LabChemistry    LabCategory = "Chemistry"
	LabMicrobiology LabCategory = "Microbiology"
	LabOther        LabCategory = "Other"
)

type LabStatus string

const (
	LabNormal   LabStatus = "Normal"
	LabAbnormal LabStatus = "Abnormal"
	LabCritical LabStatus = "Critical"
)

func (s LabStatus) Valid() bool {
	switch s {
	case LabNormal, LabAbnormal, LabCritical:
		return true
	}
	return false
}

// LabCatalog lists the orderable tests per category. Other accepts any name.
var LabCatalog = map[LabCategory][]string{
	LabHematology: {
		"CBC", "D-Dimer", "Eosinophil Count", "Hemoglobin & Hematocrit", "Platelet Count",
		"PT", "PTT", "ESR", "WBC", "Occult Blood",
	},
	LabChemistry: {
		"Albumin", "Alkaline Phosphatase", "ALT", "AST", "Amylase", "BUN", "CRP", "CK", "CK-MB",
		"Creatinine", "GGT", "Hepatic Function Panel", "Lactic Acid", "LDH", "Lipase", "Phosphorus",
		"Potassium", "Renal Function Panel", "Sodium", "Total Bilirubin", "Troponin I", "Uric Acid",
		"Urinalysis",
	},
	LabMicrobiology: {
		"Blood Culture", "Urine Culture", "Sputum Culture", "CSF Culture", "Wound Culture", "Gram Stain",
	},
	LabOther: {"Other"},
}

// InCatalog reports whether testType may be ordered under category.
func InCatalog(category LabCategory, testType string) bool {
	tests, ok := LabCatalog[category]
	if !ok {
		return false
	}
	if category == LabOther {
		return true
	}
	for _, t := range tests {
		if t == testType {
			return true
		}
	}
	return false
}

type LabResult struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	PatientID      uuid.UUID   `db:"patient_id" json:"patient_id"`
	Category       LabCategory `db:"category" json:"category"`
	TestType       string      `db:"test_type" json:"test_type"`
	TestName       string      `db:"test_name" json:"test_name"`
	Result         string      `db:"result" json:"result"`
	Unit           *string     `db:"unit" json:"unit,omitempty"`
	ReferenceRange *string     `db:"reference_range" json:"reference_range,omitempty"`
	Status         LabStatus   `db:"status" json:"status"`
	PreviousResult *string     `db:"previous_result" json:"previous_result,omitempty"`
	Delta          *float64    `db:"delta" json:"delta,omitempty"`
	Notes          string      `db:"notes" json:"notes"`
	OrderedBy      *uuid.UUID  `db:"ordered_by" json:"ordered_by,omitempty"`
	ResultedAt     time.Time   `db:"resulted_at" json:"resulted_at"`
	AcknowledgedBy *uuid.UUID  `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time  `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	Version        int64       `db:"version" json:"version"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

func (l LabResult) RecordID() string { return l.ID.String() }

func (l LabResult) RecordVersion() int64 { return l.Version }

// ReferenceRange is the normal interval for a test type.
type ReferenceRange struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	Category    LabCategory `db:"category" json:"category"`
	TestType    string      `db:"test_type" json:"test_type"`
	MinValue    *float64    `db:"min_value" json:"min_value,omitempty"`
	MaxValue    *float64    `db:"max_value" json:"max_value,omitempty"`
	Unit        *string     `db:"unit" json:"unit,omitempty"`
	Description string      `db:"description" json:"description"`
}

// Contains reports whether v lies inside the range. Open bounds always match.
func (r ReferenceRange) Contains(v float64) bool {
	if r.MinValue != nil && v < *r.MinValue {
		return false
	}
	if r.MaxValue != nil && v > *r.MaxValue {
		return false
	}
	return true
}

// String renders the range as shown beside a result, e.g. "3.5-5.0".
func (r ReferenceRange) String() string {
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	switch {
	case r.MinValue != nil && r.MaxValue != nil:
		return fmt.Sprintf("%s-%s", format(*r.MinValue), format(*r.MaxValue))
	case r.MaxValue != nil:
		return "<" + format(*r.MaxValue)
	case r.MinValue != nil:
		return ">" + format(*r.MinValue)
	}
	return r.Description
}

// -- Procedures --

type ProcedureOutcome string

const (
	OutcomeSuccessful          ProcedureOutcome = "Successful"
	OutcomePartiallySuccessful ProcedureOutcome = "Partially Successful"
	OutcomeUnsuccessful        ProcedureOutcome = "Unsuccessful"
	OutcomeAbandoned           ProcedureOutcome = "Abandoned"
)

func (o ProcedureOutcome) Valid() bool {
	switch o {
	case OutcomeSuccessful, OutcomePartiallySuccessful, OutcomeUnsuccessful, OutcomeAbandoned:
		return true
	}
	return false
}

type Procedure struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	PatientID     uuid.UUID        `db:"patient_id" json:"patient_id"`
	Name          string           `db:"name" json:"name"`
	Category      string           `db:"category" json:"category"`
	Description   string           `db:"description" json:"description"`
	Complications string           `db:"complications" json:"complications"`
	Outcome       ProcedureOutcome `db:"outcome" json:"outcome"`
	Notes         string           `db:"notes" json:"notes"`
	PerformerID   *uuid.UUID       `db:"performer_id" json:"performer_id,omitempty"`
	PerformedAt   time.Time        `db:"performed_at" json:"performed_at"`
	Version       int64            `db:"version" json:"version"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

func (p Procedure) RecordID() string { return p.ID.String() }

func (p Procedure) RecordVersion() int64 { return p.Version }

// -- Progress notes --

// ProgressNote is a daily SOAP note.
type ProgressNote struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PatientID  uuid.UUID  `db:"patient_id" json:"patient_id"`
	NoteDate   time.Time  `db:"note_date" json:"note_date"`
	Subjective string     `db:"subjective" json:"subjective"`
	Objective  string     `db:"objective" json:"objective"`
	Assessment string     `db:"assessment" json:"assessment"`
	Plan       string     `db:"plan" json:"plan"`
	CreatedBy  *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	Version    int64      `db:"version" json:"version"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

func (n ProgressNote) RecordID() string { return n.ID.String() }

func (n ProgressNote) RecordVersion() int64 { return n.Version }

// Accepted is the body of a create response: the id only. The row itself
// reaches clients through the change feed.
type Accepted struct {
	ID uuid.UUID `json:"id"`
}
