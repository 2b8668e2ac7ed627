package clinical

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/db"
)

// collect scans every row with scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var items []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =========== Vitals Repository ===========

type vitalsRepoPG struct {
	pool *pgxpool.Pool
}

func NewVitalsRepoPG(pool *pgxpool.Pool) VitalsRepository {
	return &vitalsRepoPG{pool: pool}
}

func (r *vitalsRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const vitalsCols = `id, patient_id, heart_rate, blood_pressure, temperature, oxygen_saturation,
	respiratory_rate, notes, recorded_by, recorded_at, version, created_at, updated_at`

func scanVitals(row pgx.Row) (*Vitals, error) {
	var v Vitals
	err := row.Scan(&v.ID, &v.PatientID, &v.HeartRate, &v.BloodPressure, &v.Temperature, &v.OxygenSaturation,
		&v.RespiratoryRate, &v.Notes, &v.RecordedBy, &v.RecordedAt, &v.Version, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *vitalsRepoPG) Create(ctx context.Context, v *Vitals) error {
	v.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO vitals (id, patient_id, heart_rate, blood_pressure, temperature, oxygen_saturation,
			respiratory_rate, notes, recorded_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING version, created_at, updated_at`,
		v.ID, v.PatientID, v.HeartRate, v.BloodPressure, v.Temperature, v.OxygenSaturation,
		v.RespiratoryRate, v.Notes, v.RecordedBy, v.RecordedAt,
	).Scan(&v.Version, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert vitals: %w", err)
	}
	return nil
}

func (r *vitalsRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Vitals, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+vitalsCols+` FROM vitals WHERE patient_id = $1
		ORDER BY recorded_at DESC, id LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list vitals: %w", err)
	}
	return collect(rows, scanVitals)
}

// =========== Medication Repository ===========

type medicationRepoPG struct {
	pool *pgxpool.Pool
}

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

func (r *medicationRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const medicationCols = `id, patient_id, name, dosage, route, frequency, notes, start_date, end_date,
	status, prescribed_by, version, created_at, updated_at`

func scanMedication(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.PatientID, &m.Name, &m.Dosage, &m.Route, &m.Frequency, &m.Notes,
		&m.StartDate, &m.EndDate, &m.Status, &m.PrescribedBy, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *medicationRepoPG) Create(ctx context.Context, m *Medication) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication (id, patient_id, name, dosage, route, frequency, notes, start_date, status, prescribed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING version, created_at, updated_at`,
		m.ID, m.PatientID, m.Name, m.Dosage, m.Route, m.Frequency, m.Notes, m.StartDate, m.Status, m.PrescribedBy,
	).Scan(&m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert medication: %w", err)
	}
	return nil
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	m, err := scanMedication(r.conn(ctx).QueryRow(ctx, `SELECT `+medicationCols+` FROM medication WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("medication", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	return m, nil
}

func (r *medicationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Medication, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+medicationCols+` FROM medication WHERE patient_id = $1
		ORDER BY start_date DESC, id LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	return collect(rows, scanMedication)
}

func (r *medicationRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status MedicationStatus, endDate *time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication SET status = $2, end_date = $3, updated_at = NOW()
		WHERE id = $1 AND status <> $2`, id, status, endDate)
	if err != nil {
		return fmt.Errorf("update medication status: %w", err)
	}
	return nil
}

func (r *medicationRepoPG) CloseActive(ctx context.Context, patientID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication SET status = 'Completed', end_date = $2, updated_at = NOW()
		WHERE patient_id = $1 AND status = 'Active'`, patientID, at)
	if err != nil {
		return 0, fmt.Errorf("close active medications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// =========== Lab Repository ===========

type labRepoPG struct {
	pool *pgxpool.Pool
}

func NewLabRepoPG(pool *pgxpool.Pool) LabRepository {
	return &labRepoPG{pool: pool}
}

func (r *labRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const labCols = `id, patient_id, category, test_type, test_name, result, unit, reference_range, status,
	previous_result, delta, notes, ordered_by, resulted_at, acknowledged_by, acknowledged_at,
	version, created_at, updated_at`

func scanLab(row pgx.Row) (*LabResult, error) {
	var l LabResult
	err := row.Scan(&l.ID, &l.PatientID, &l.Category, &l.TestType, &l.TestName, &l.Result, &l.Unit,
		&l.ReferenceRange, &l.Status, &l.PreviousResult, &l.Delta, &l.Notes, &l.OrderedBy, &l.ResultedAt,
		&l.AcknowledgedBy, &l.AcknowledgedAt, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *labRepoPG) Create(ctx context.Context, l *LabResult) error {
	l.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_result (id, patient_id, category, test_type, test_name, result, unit, reference_range,
			status, previous_result, delta, notes, ordered_by, resulted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING version, created_at, updated_at`,
		l.ID, l.PatientID, l.Category, l.TestType, l.TestName, l.Result, l.Unit, l.ReferenceRange,
		l.Status, l.PreviousResult, l.Delta, l.Notes, l.OrderedBy, l.ResultedAt,
	).Scan(&l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert lab result: %w", err)
	}
	return nil
}

func (r *labRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	l, err := scanLab(r.conn(ctx).QueryRow(ctx, `SELECT `+labCols+` FROM lab_result WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("lab result", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get lab result: %w", err)
	}
	return l, nil
}

func (r *labRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*LabResult, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+labCols+` FROM lab_result WHERE patient_id = $1
		ORDER BY resulted_at DESC, id LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list lab results: %w", err)
	}
	return collect(rows, scanLab)
}

func (r *labRepoPG) Latest(ctx context.Context, patientID uuid.UUID, testType string) (*LabResult, error) {
	l, err := scanLab(r.conn(ctx).QueryRow(ctx, `
		SELECT `+labCols+` FROM lab_result WHERE patient_id = $1 AND test_type = $2
		ORDER BY resulted_at DESC LIMIT 1`, patientID, testType))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest lab result: %w", err)
	}
	return l, nil
}

func (r *labRepoPG) Acknowledge(ctx context.Context, id, by uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_result SET acknowledged_by = $2, acknowledged_at = $3, updated_at = NOW()
		WHERE id = $1 AND acknowledged_at IS NULL`, id, by, at)
	if err != nil {
		return fmt.Errorf("acknowledge lab result: %w", err)
	}
	return nil
}

const rangeCols = `id, category, test_type, min_value, max_value, unit, description`

func scanRange(row pgx.Row) (*ReferenceRange, error) {
	var rr ReferenceRange
	err := row.Scan(&rr.ID, &rr.Category, &rr.TestType, &rr.MinValue, &rr.MaxValue, &rr.Unit, &rr.Description)
	if err != nil {
		return nil, err
	}
	return &rr, nil
}

func (r *labRepoPG) ReferenceRanges(ctx context.Context) ([]*ReferenceRange, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+rangeCols+` FROM lab_reference_range ORDER BY category, test_type`)
	if err != nil {
		return nil, fmt.Errorf("list reference ranges: %w", err)
	}
	return collect(rows, scanRange)
}

func (r *labRepoPG) ReferenceRange(ctx context.Context, testType string) (*ReferenceRange, error) {
	rr, err := scanRange(r.conn(ctx).QueryRow(ctx,
		`SELECT `+rangeCols+` FROM lab_reference_range WHERE test_type = $1`, testType))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reference range: %w", err)
	}
	return rr, nil
}

// =========== Procedure Repository ===========

type procedureRepoPG struct {
	pool *pgxpool.Pool
}

func NewProcedureRepoPG(pool *pgxpool.Pool) ProcedureRepository {
	return &procedureRepoPG{pool: pool}
}

func (r *procedureRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const procedureCols = `id, patient_id, name, category, description, complications, outcome, notes,
	performer_id, performed_at, version, created_at, updated_at`

func scanProcedure(row pgx.Row) (*Procedure, error) {
	var p Procedure
	err := row.Scan(&p.ID, &p.PatientID, &p.Name, &p.Category, &p.Description, &p.Complications, &p.Outcome,
		&p.Notes, &p.PerformerID, &p.PerformedAt, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *procedureRepoPG) Create(ctx context.Context, p *Procedure) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO procedure (id, patient_id, name, category, description, complications, outcome, notes,
			performer_id, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING version, created_at, updated_at`,
		p.ID, p.PatientID, p.Name, p.Category, p.Description, p.Complications, p.Outcome, p.Notes,
		p.PerformerID, p.PerformedAt,
	).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert procedure: %w", err)
	}
	return nil
}

func (r *procedureRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Procedure, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+procedureCols+` FROM procedure WHERE patient_id = $1
		ORDER BY performed_at DESC, id LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	return collect(rows, scanProcedure)
}

// =========== Progress Note Repository ===========

type noteRepoPG struct {
	pool *pgxpool.Pool
}

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository {
	return &noteRepoPG{pool: pool}
}

func (r *noteRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const noteCols = `id, patient_id, note_date, subjective, objective, assessment, plan, created_by,
	version, created_at, updated_at`

func scanNote(row pgx.Row) (*ProgressNote, error) {
	var n ProgressNote
	err := row.Scan(&n.ID, &n.PatientID, &n.NoteDate, &n.Subjective, &n.Objective, &n.Assessment, &n.Plan,
		&n.CreatedBy, &n.Version, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *noteRepoPG) Create(ctx context.Context, n *ProgressNote) error {
	n.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO progress_note (id, patient_id, note_date, subjective, objective, assessment, plan, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING version, created_at, updated_at`,
		n.ID, n.PatientID, n.NoteDate, n.Subjective, n.Objective, n.Assessment, n.Plan, n.CreatedBy,
	).Scan(&n.Version, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert progress note: %w", err)
	}
	return nil
}

func (r *noteRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*ProgressNote, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+noteCols+` FROM progress_note WHERE patient_id = $1
		ORDER BY note_date DESC, created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list progress notes: %w", err)
	}
	return collect(rows, scanNote)
}
