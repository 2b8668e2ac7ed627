package report

import (
	"time"

	"github.com/icu/icu/internal/domain/clinical"
	"github.com/icu/icu/internal/domain/patient"
	"github.com/icu/icu/pkg/daterange"
)

// RecordSet is every row a report reads, each bounded by its own date field:
// patients by admission date, discharges by discharge date, everything else
// by creation time.
type RecordSet struct {
	Patients    []*patient.Patient
	Discharges  []*patient.Discharge
	Medications []*clinical.Medication
	Labs        []*clinical.LabResult
	Procedures  []*clinical.Procedure
	Vitals      []*clinical.Vitals
}

// Options fix the constants a report depends on.
type Options struct {
	BedCapacity       int
	ReadmissionWindow time.Duration
	// Now anchors the daily activity counts.
	Now time.Time
}

type Metrics struct {
	TotalPatients       int     `json:"total_patients"`
	CriticalCases       int     `json:"critical_cases"`
	MedicationsGiven    int     `json:"medications_given"`
	LabTests            int     `json:"lab_tests"`
	VitalsRecorded      int     `json:"vitals_recorded"`
	AverageStayDuration float64 `json:"average_stay_duration"`
	BedOccupancyRate    float64 `json:"bed_occupancy_rate"`
	ReadmissionRate     float64 `json:"readmission_rate"`
	MortalityRate       float64 `json:"mortality_rate"`
}

// NamedValue is one bar of a chart.
type NamedValue struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

type Activities struct {
	PatientStatusDistribution []NamedValue `json:"patient_status_distribution"`
	DailyActivities           []NamedValue `json:"daily_activities"`
	TopProcedures             []NamedValue `json:"top_procedures"`
	CommonDiagnoses           []NamedValue `json:"common_diagnoses"`
}

type Report struct {
	Range       daterange.Range        `json:"range"`
	Metrics     Metrics                `json:"metrics"`
	Activities  Activities             `json:"activities"`
	Patients    []*patient.Patient     `json:"patients"`
	Medications []*clinical.Medication `json:"medications"`
	Labs        []*clinical.LabResult  `json:"lab_results"`
	Procedures  []*clinical.Procedure  `json:"procedures"`
}

// Changes holds percent changes from the previous period, rounded to one
// decimal.
type Changes struct {
	TotalPatients       float64 `json:"total_patients"`
	CriticalCases       float64 `json:"critical_cases"`
	MedicationsGiven    float64 `json:"medications_given"`
	LabTests            float64 `json:"lab_tests"`
	AverageStayDuration float64 `json:"average_stay_duration"`
	BedOccupancyRate    float64 `json:"bed_occupancy_rate"`
	ReadmissionRate     float64 `json:"readmission_rate"`
	MortalityRate       float64 `json:"mortality_rate"`
}

type Comparison struct {
	Current        Metrics         `json:"current"`
	Previous       Metrics         `json:"previous"`
	PreviousPeriod daterange.Range `json:"previous_period"`
	Changes        Changes         `json:"changes"`
}

// EpisodeRow is an admission episode with the discharge date of the episode
// it follows, if any.
type EpisodeRow struct {
	patient.Episode
	PreviousDischarge *time.Time `json:"previous_discharge,omitempty"`
}

type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

type ReadmissionStats struct {
	TotalAdmissions          int           `json:"total_admissions"`
	TotalReadmissions        int           `json:"total_readmissions"`
	ReadmissionRate          float64       `json:"readmission_rate"`
	AverageDaysToReadmission float64       `json:"average_days_to_readmission"`
	CommonReasons            []ReasonCount `json:"common_reasons"`
}
