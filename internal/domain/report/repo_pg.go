package report

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/icu/icu/internal/domain/clinical"
	"github.com/icu/icu/internal/domain/patient"
	"github.com/icu/icu/internal/platform/db"
	"github.com/icu/icu/pkg/daterange"
)

type reportRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// query runs a bounded select and scans each row into a new T.
func query[T any](ctx context.Context, q db.Querier, sql string, rng daterange.Range, scan func(pgx.Row, *T) error) ([]*T, error) {
	rows, err := q.Query(ctx, sql, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*T{}
	for rows.Next() {
		item := new(T)
		if err := scan(rows, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Load runs the six bounded reads in parallel.
func (r *reportRepoPG) Load(ctx context.Context, rng daterange.Range) (*RecordSet, error) {
	rs := &RecordSet{}
	q := r.conn(ctx)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		rs.Patients, err = query(ctx, q, `
			SELECT id, mrn, name, age, gender, diagnosis, bed_number, condition, discharge_status,
				admission_date, discharge_date, created_at
			FROM patient WHERE admission_date BETWEEN $1 AND $2 ORDER BY admission_date`, rng,
			func(row pgx.Row, p *patient.Patient) error {
				return row.Scan(&p.ID, &p.MRN, &p.Name, &p.Age, &p.Gender, &p.Diagnosis, &p.BedNumber,
					&p.Condition, &p.DischargeStatus, &p.AdmissionDate, &p.DischargeDate, &p.CreatedAt)
			})
		if err != nil {
			return fmt.Errorf("load patients: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		rs.Discharges, err = query(ctx, q, `
			SELECT id, patient_id, discharge_date, discharge_diagnosis, discharge_condition
			FROM discharge WHERE discharge_date BETWEEN $1 AND $2 ORDER BY discharge_date`, rng,
			func(row pgx.Row, d *patient.Discharge) error {
				return row.Scan(&d.ID, &d.PatientID, &d.DischargeDate, &d.DischargeDiagnosis, &d.DischargeCondition)
			})
		if err != nil {
			return fmt.Errorf("load discharges: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		rs.Medications, err = query(ctx, q, `
			SELECT id, patient_id, name, dosage, route, frequency, status, start_date, created_at
			FROM medication WHERE created_at BETWEEN $1 AND $2 ORDER BY created_at`, rng,
			func(row pgx.Row, m *clinical.Medication) error {
				return row.Scan(&m.ID, &m.PatientID, &m.Name, &m.Dosage, &m.Route, &m.Frequency,
					&m.Status, &m.StartDate, &m.CreatedAt)
			})
		if err != nil {
			return fmt.Errorf("load medications: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		rs.Labs, err = query(ctx, q, `
			SELECT id, patient_id, category, test_type, test_name, result, unit, status, resulted_at, created_at
			FROM lab_result WHERE created_at BETWEEN $1 AND $2 ORDER BY created_at`, rng,
			func(row pgx.Row, l *clinical.LabResult) error {
				return row.Scan(&l.ID, &l.PatientID, &l.Category, &l.TestType, &l.TestName, &l.Result,
					&l.Unit, &l.Status, &l.ResultedAt, &l.CreatedAt)
			})
		if err != nil {
			return fmt.Errorf("load lab results: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		rs.Procedures, err = query(ctx, q, `
			SELECT id, patient_id, name, category, outcome, performed_at, created_at
			FROM procedure WHERE created_at BETWEEN $1 AND $2 ORDER BY created_at`, rng,
			func(row pgx.Row, p *clinical.Procedure) error {
				return row.Scan(&p.ID, &p.PatientID, &p.Name, &p.Category, &p.Outcome, &p.PerformedAt, &p.CreatedAt)
			})
		if err != nil {
			return fmt.Errorf("load procedures: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		rs.Vitals, err = query(ctx, q, `
			SELECT id, patient_id, heart_rate, oxygen_saturation, temperature, recorded_at, created_at
			FROM vitals WHERE created_at BETWEEN $1 AND $2 ORDER BY created_at`, rng,
			func(row pgx.Row, v *clinical.Vitals) error {
				return row.Scan(&v.ID, &v.PatientID, &v.HeartRate, &v.OxygenSaturation, &v.Temperature,
					&v.RecordedAt, &v.CreatedAt)
			})
		if err != nil {
			return fmt.Errorf("load vitals: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (r *reportRepoPG) Episodes(ctx context.Context, rng daterange.Range) ([]EpisodeRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT e.id, e.patient_id, e.admission_date, e.discharge_date, e.primary_diagnosis, e.bed_number,
			e.status, e.previous_episode_id, e.is_readmission, e.readmission_reason, prev.discharge_date
		FROM admission_episode e
		LEFT JOIN admission_episode prev ON prev.id = e.previous_episode_id
		WHERE e.admission_date BETWEEN $1 AND $2
		ORDER BY e.admission_date`, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("load episodes: %w", err)
	}
	defer rows.Close()
	var out []EpisodeRow
	for rows.Next() {
		var e EpisodeRow
		if err := rows.Scan(&e.ID, &e.PatientID, &e.AdmissionDate, &e.DischargeDate, &e.PrimaryDiagnosis,
			&e.BedNumber, &e.Status, &e.PreviousEpisodeID, &e.IsReadmission, &e.ReadmissionReason,
			&e.PreviousDischarge); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
