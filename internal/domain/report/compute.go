package report

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/icu/icu/internal/domain/patient"
	"github.com/icu/icu/pkg/daterange"
)

const topN = 5

const day = 24 * time.Hour

// ratio divides and yields 0 instead of NaN or Inf.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// counter tallies names in first-seen order.
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(name string) {
	if _, ok := c.counts[name]; !ok {
		c.order = append(c.order, name)
	}
	c.counts[name]++
}

func (c *counter) values() []NamedValue {
	out := make([]NamedValue, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, NamedValue{Name: name, Value: c.counts[name]})
	}
	return out
}

// top sorts by count descending, keeping first-seen order among ties.
func (c *counter) top(n int) []NamedValue {
	out := c.values()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// Compute derives a report from rows already bounded to r.
func Compute(rs RecordSet, r daterange.Range, opts Options) Report {
	rep := Report{
		Range:       r,
		Patients:    rs.Patients,
		Medications: rs.Medications,
		Labs:        rs.Labs,
		Procedures:  rs.Procedures,
	}
	rep.Metrics = computeMetrics(rs, opts)

	status := newCounter()
	diagnoses := newCounter()
	admittedToday := 0
	for _, p := range rs.Patients {
		status.add(string(p.Condition))
		diagnoses.add(p.Diagnosis)
		if sameDay(opts.Now, p.AdmissionDate) {
			admittedToday++
		}
	}
	procedures := newCounter()
	proceduresToday := 0
	for _, p := range rs.Procedures {
		procedures.add(p.Name)
		if sameDay(opts.Now, p.CreatedAt) {
			proceduresToday++
		}
	}
	labsToday := 0
	for _, l := range rs.Labs {
		if sameDay(opts.Now, l.CreatedAt) {
			labsToday++
		}
	}
	medsToday := 0
	for _, m := range rs.Medications {
		if sameDay(opts.Now, m.CreatedAt) {
			medsToday++
		}
	}

	rep.Activities = Activities{
		PatientStatusDistribution: status.values(),
		DailyActivities: []NamedValue{
			{Name: "Admissions", Value: admittedToday},
			{Name: "Lab Tests", Value: labsToday},
			{Name: "Medications", Value: medsToday},
			{Name: "Procedures", Value: proceduresToday},
		},
		TopProcedures:   procedures.top(topN),
		CommonDiagnoses: diagnoses.top(topN),
	}
	return rep
}

func computeMetrics(rs RecordSet, opts Options) Metrics {
	m := Metrics{
		TotalPatients:    len(rs.Patients),
		MedicationsGiven: len(rs.Medications),
		LabTests:         len(rs.Labs),
		VitalsRecorded:   len(rs.Vitals),
	}

	byID := make(map[uuid.UUID]*patient.Patient, len(rs.Patients))
	occupied := 0
	for _, p := range rs.Patients {
		byID[p.ID] = p
		if p.Condition == patient.ConditionCritical {
			m.CriticalCases++
		}
		if !p.IsDischarged() {
			occupied++
		}
	}
	m.BedOccupancyRate = ratio(float64(occupied), float64(opts.BedCapacity))

	died := 0
	var stayDays float64
	stays := 0
	dischargesByPatient := make(map[uuid.UUID][]time.Time)
	for _, d := range rs.Discharges {
		if d.DischargeCondition == patient.DischargeDied {
			died++
		}
		dischargesByPatient[d.PatientID] = append(dischargesByPatient[d.PatientID], d.DischargeDate)
		p, ok := byID[d.PatientID]
		if !ok {
			continue
		}
		// A readmitted patient's row carries the later admission date.
		if stay := d.DischargeDate.Sub(p.AdmissionDate); stay >= 0 {
			stayDays += stay.Hours() / 24
			stays++
		}
	}
	m.MortalityRate = ratio(float64(died), float64(len(rs.Discharges)))
	m.AverageStayDuration = ratio(stayDays, float64(stays))

	readmitted := 0
	for _, p := range rs.Patients {
		for _, at := range dischargesByPatient[p.ID] {
			gap := p.AdmissionDate.Sub(at)
			if gap >= 0 && gap <= opts.ReadmissionWindow {
				readmitted++
				break
			}
		}
	}
	m.ReadmissionRate = ratio(float64(readmitted), float64(len(rs.Patients)))
	return m
}

// percentChange is rounded to one decimal and 0 when previous is 0.
func percentChange(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return math.Round((current-previous)/previous*1000) / 10
}

// Compare sets current metrics against those of the previous period.
func Compare(current, previous Metrics, previousPeriod daterange.Range) Comparison {
	return Comparison{
		Current:        current,
		Previous:       previous,
		PreviousPeriod: previousPeriod,
		Changes: Changes{
			TotalPatients:       percentChange(float64(current.TotalPatients), float64(previous.TotalPatients)),
			CriticalCases:       percentChange(float64(current.CriticalCases), float64(previous.CriticalCases)),
			MedicationsGiven:    percentChange(float64(current.MedicationsGiven), float64(previous.MedicationsGiven)),
			LabTests:            percentChange(float64(current.LabTests), float64(previous.LabTests)),
			AverageStayDuration: percentChange(current.AverageStayDuration, previous.AverageStayDuration),
			BedOccupancyRate:    percentChange(current.BedOccupancyRate, previous.BedOccupancyRate),
			ReadmissionRate:     percentChange(current.ReadmissionRate, previous.ReadmissionRate),
			MortalityRate:       percentChange(current.MortalityRate, previous.MortalityRate),
		},
	}
}

// Readmissions summarizes episodes admitted in a period.
func Readmissions(episodes []EpisodeRow) ReadmissionStats {
	stats := ReadmissionStats{TotalAdmissions: len(episodes), CommonReasons: []ReasonCount{}}
	reasons := newCounter()
	var days float64
	gaps := 0
	for _, e := range episodes {
		if !e.IsReadmission {
			continue
		}
		stats.TotalReadmissions++
		if e.ReadmissionReason != nil && *e.ReadmissionReason != "" {
			reasons.add(*e.ReadmissionReason)
		}
		if e.PreviousDischarge != nil {
			days += float64(e.AdmissionDate.Sub(*e.PreviousDischarge)) / float64(day)
			gaps++
		}
	}
	stats.ReadmissionRate = ratio(float64(stats.TotalReadmissions), float64(stats.TotalAdmissions))
	stats.AverageDaysToReadmission = ratio(days, float64(gaps))
	for _, r := range reasons.top(topN) {
		stats.CommonReasons = append(stats.CommonReasons, ReasonCount{Reason: r.Name, Count: r.Value})
	}
	return stats
}
