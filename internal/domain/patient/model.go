package patient

import (
	"time"

	"github.com/google/uuid"
)

// Condition is the clinical acuity of an admitted patient.
type Condition string

const (
	ConditionActive   Condition = "Active"
	ConditionCritical Condition = "Critical"
	ConditionDNR      Condition = "DNR"
)

func (c Condition) Valid() bool {
	switch c {
	case ConditionActive, ConditionCritical, ConditionDNR:
		return true
	}
	return false
}

// DischargeStatus tracks a patient's progress towards leaving the unit.
// Discharged is terminal.
type DischargeStatus string

const (
	StatusAdmitted   DischargeStatus = "Admitted"
	StatusPending    DischargeStatus = "Pending"
	StatusDischarged DischargeStatus = "Discharged"
)

func (s DischargeStatus) Valid() bool {
	switch s {
	case StatusAdmitted, StatusPending, StatusDischarged:
		return true
	}
	return false
}

type EpisodeStatus string

const (
	EpisodeActive     EpisodeStatus = "Active"
	EpisodeDischarged EpisodeStatus = "Discharged"
)

// DischargeCondition is the outcome recorded on the discharge form.
type DischargeCondition string

const (
	DischargeImproved DischargeCondition = "Improved"
	DischargeDied     DischargeCondition = "Died"
)

func (d DischargeCondition) Valid() bool {
	return d == DischargeImproved || d == DischargeDied
}

// Patient is the unit's census row. A readmitted patient keeps the same row;
// each stay is an Episode.
type Patient struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	MRN                  string          `db:"mrn" json:"mrn"`
	Name                 string          `db:"name" json:"name"`
	Age                  int             `db:"age" json:"age"`
	Gender               string          `db:"gender" json:"gender"`
	Diagnosis            string          `db:"diagnosis" json:"diagnosis"`
	BedNumber            string          `db:"bed_number" json:"bed_number"`
	Condition            Condition       `db:"condition" json:"condition"`
	DischargeStatus      DischargeStatus `db:"discharge_status" json:"discharge_status"`
	AdmissionDate        time.Time       `db:"admission_date" json:"admission_date"`
	DischargeDate        *time.Time      `db:"discharge_date" json:"discharge_date,omitempty"`
	AttendingPhysicianID uuid.UUID       `db:"attending_physician_id" json:"attending_physician_id"`
	History              string          `db:"history" json:"history"`
	Examination          string          `db:"examination" json:"examination"`
	Notes                string          `db:"notes" json:"notes"`
	Version              int64           `db:"version" json:"version"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

func (p Patient) RecordID() string { return p.ID.String() }

func (p Patient) RecordVersion() int64 { return p.Version }

func (p Patient) IsDischarged() bool { return p.DischargeStatus == StatusDischarged }

// Episode is one stay in the unit.
type Episode struct {
	ID                   uuid.UUID     `db:"id" json:"id"`
	PatientID            uuid.UUID     `db:"patient_id" json:"patient_id"`
	AdmissionDate        time.Time     `db:"admission_date" json:"admission_date"`
	DischargeDate        *time.Time    `db:"discharge_date" json:"discharge_date,omitempty"`
	PrimaryDiagnosis     string        `db:"primary_diagnosis" json:"primary_diagnosis"`
	AttendingPhysicianID uuid.UUID     `db:"attending_physician_id" json:"attending_physician_id"`
	BedNumber            string        `db:"bed_number" json:"bed_number"`
	Status               EpisodeStatus `db:"status" json:"status"`
	PreviousEpisodeID    *uuid.UUID    `db:"previous_episode_id" json:"previous_episode_id,omitempty"`
	IsReadmission        bool          `db:"is_readmission" json:"is_readmission"`
	ReadmissionReason    *string       `db:"readmission_reason" json:"readmission_reason,omitempty"`
	Version              int64         `db:"version" json:"version"`
	CreatedAt            time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updated_at"`
}

// Discharge is the authoritative record of a patient leaving the unit.
type Discharge struct {
	ID                   uuid.UUID          `db:"id" json:"id"`
	PatientID            uuid.UUID          `db:"patient_id" json:"patient_id"`
	EpisodeID            *uuid.UUID         `db:"episode_id" json:"episode_id,omitempty"`
	DischargeDate        time.Time          `db:"discharge_date" json:"discharge_date"`
	DischargeDiagnosis   string             `db:"discharge_diagnosis" json:"discharge_diagnosis"`
	DischargeSummary     string             `db:"discharge_summary" json:"discharge_summary"`
	DischargeMedications *string            `db:"discharge_medications" json:"discharge_medications,omitempty"`
	FollowUpInstructions *string            `db:"follow_up_instructions" json:"follow_up_instructions,omitempty"`
	DischargeCondition   DischargeCondition `db:"discharge_condition" json:"discharge_condition"`
	DischargedBy         *uuid.UUID         `db:"discharged_by" json:"discharged_by,omitempty"`
	Version              int64              `db:"version" json:"version"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at" json:"updated_at"`
	PatientName          string             `db:"-" json:"patient_name,omitempty"`
	PatientMRN           string             `db:"-" json:"patient_mrn,omitempty"`
}

// AdmitInput is the admission form.
type AdmitInput struct {
	MRN                  string     `json:"mrn"`
	Name                 string     `json:"name"`
	Age                  int        `json:"age"`
	Gender               string     `json:"gender"`
	Diagnosis            string     `json:"diagnosis"`
	BedNumber            string     `json:"bed_number"`
	History              string     `json:"history"`
	Examination          string     `json:"examination"`
	Notes                string     `json:"notes"`
	ReadmissionReason    string     `json:"readmission_reason"`
	AttendingPhysicianID *uuid.UUID `json:"attending_physician_id"`
	AdmissionDate        *time.Time `json:"admission_date"`
}

// DischargeInput is the discharge form.
type DischargeInput struct {
	PatientID            uuid.UUID          `json:"-"`
	DischargeDate        *time.Time         `json:"discharge_date"`
	DischargeDiagnosis   string             `json:"discharge_diagnosis"`
	DischargeSummary     string             `json:"discharge_summary"`
	DischargeMedications *string            `json:"discharge_medications"`
	FollowUpInstructions *string            `json:"follow_up_instructions"`
	DischargeCondition   DischargeCondition `json:"discharge_condition"`
}

// DischargeResult is a committed discharge plus any housekeeping that did
// not complete inline and was left queued.
type DischargeResult struct {
	Discharge *Discharge `json:"discharge"`
	Patient   *Patient   `json:"patient"`
	Warnings  []string   `json:"warnings,omitempty"`
}

// ListFilter narrows the census.
type ListFilter struct {
	Condition Condition
	Status    DischargeStatus
	Search    string
	// VisibleSince hides patients discharged before it.
	VisibleSince time.Time
}

// EpisodeView is the latest episode of a patient and, for readmissions,
// the one before it.
type EpisodeView struct {
	Current  *Episode `json:"current"`
	Previous *Episode `json:"previous,omitempty"`
	// DaysSinceDischarge is whole days from the previous discharge to the
	// current admission.
	DaysSinceDischarge *int `json:"days_since_discharge,omitempty"`
}
