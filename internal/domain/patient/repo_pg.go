package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/db"
)

// =========== Patient Repository ===========

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientCols = `id, mrn, name, age, gender, diagnosis, bed_number, condition, discharge_status,
	admission_date, discharge_date, attending_physician_id, history, examination, notes,
	version, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.Name, &p.Age, &p.Gender, &p.Diagnosis, &p.BedNumber,
		&p.Condition, &p.DischargeStatus, &p.AdmissionDate, &p.DischargeDate,
		&p.AttendingPhysicianID, &p.History, &p.Examination, &p.Notes,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// admitConflict maps the unique indexes guarding occupancy to conflicts.
func admitConflict(err error, bed string) error {
	switch {
	case db.IsUniqueViolation(err, "patient_active_bed"), db.IsUniqueViolation(err, "admission_episode_active_bed"):
		return apperr.BedOccupied(bed)
	case db.IsUniqueViolation(err, "patient_mrn_key"), db.IsUniqueViolation(err, "admission_episode_active_patient"):
		return apperr.Conflict(apperr.CodeAlreadyAdmitted, "patient is already admitted")
	}
	return nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, mrn, name, age, gender, diagnosis, bed_number, condition,
			discharge_status, admission_date, attending_physician_id, history, examination, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING version, created_at, updated_at`,
		p.ID, p.MRN, p.Name, p.Age, p.Gender, p.Diagnosis, p.BedNumber, p.Condition,
		p.DischargeStatus, p.AdmissionDate, p.AttendingPhysicianID, p.History, p.Examination, p.Notes,
	).Scan(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if cerr := admitConflict(err, p.BedNumber); cerr != nil {
		return cerr
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) Readmit(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET name = $2, age = $3, gender = $4, diagnosis = $5, bed_number = $6,
			condition = $7, discharge_status = $8, admission_date = $9, discharge_date = NULL,
			attending_physician_id = $10, history = $11, examination = $12, notes = $13, updated_at = NOW()
		WHERE id = $1 AND discharge_status = 'Discharged'
		RETURNING version, updated_at`,
		p.ID, p.Name, p.Age, p.Gender, p.Diagnosis, p.BedNumber,
		p.Condition, p.DischargeStatus, p.AdmissionDate,
		p.AttendingPhysicianID, p.History, p.Examination, p.Notes,
	).Scan(&p.Version, &p.UpdatedAt)
	if cerr := admitConflict(err, p.BedNumber); cerr != nil {
		return cerr
	}
	if db.IsNoRows(err) {
		return apperr.Conflict(apperr.CodeAlreadyAdmitted, "patient is already admitted")
	}
	if err != nil {
		return fmt.Errorf("readmit patient: %w", err)
	}
	p.DischargeDate = nil
	return nil
}

func (r *patientRepoPG) get(ctx context.Context, where string, arg interface{}) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE `+where, arg))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient", fmt.Sprint(arg))
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *patientRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.get(ctx, `id = $1 FOR UPDATE`, id)
}

func (r *patientRepoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return r.get(ctx, `mrn = $1`, mrn)
}

func (r *patientRepoPG) UpdateCondition(ctx context.Context, id uuid.UUID, c Condition) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET condition = $2, updated_at = NOW()
		WHERE id = $1 AND condition <> $2`, id, c)
	if err != nil {
		return fmt.Errorf("update patient condition: %w", err)
	}
	return nil
}

func (r *patientRepoPG) UpdateDischargeStatus(ctx context.Context, id uuid.UUID, s DischargeStatus, dischargeDate *time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET discharge_status = $2, discharge_date = COALESCE($3, discharge_date), updated_at = NOW()
		WHERE id = $1 AND discharge_status <> $2`, id, s, dischargeDate)
	if err != nil {
		return fmt.Errorf("update patient discharge status: %w", err)
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !f.VisibleSince.IsZero() {
		where = append(where, "(discharge_status <> 'Discharged' OR discharge_date >= "+arg(f.VisibleSince)+")")
	}
	if f.Condition != "" {
		where = append(where, "condition = "+arg(f.Condition))
	}
	if f.Status != "" {
		where = append(where, "discharge_status = "+arg(f.Status))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		p := arg("%" + q + "%")
		where = append(where, "(name ILIKE "+p+" OR mrn ILIKE "+p+" OR bed_number ILIKE "+p+")")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	query := `SELECT ` + patientCols + ` FROM patient` + clause +
		` ORDER BY updated_at DESC, id LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Episode Repository ===========

type episodeRepoPG struct {
	pool *pgxpool.Pool
}

func NewEpisodeRepoPG(pool *pgxpool.Pool) EpisodeRepository {
	return &episodeRepoPG{pool: pool}
}

func (r *episodeRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const episodeCols = `id, patient_id, admission_date, discharge_date, primary_diagnosis,
	attending_physician_id, bed_number, status, previous_episode_id, is_readmission,
	readmission_reason, version, created_at, updated_at`

func scanEpisode(row pgx.Row) (*Episode, error) {
	var e Episode
	err := row.Scan(&e.ID, &e.PatientID, &e.AdmissionDate, &e.DischargeDate, &e.PrimaryDiagnosis,
		&e.AttendingPhysicianID, &e.BedNumber, &e.Status, &e.PreviousEpisodeID, &e.IsReadmission,
		&e.ReadmissionReason, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *episodeRepoPG) Create(ctx context.Context, e *Episode) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission_episode (id, patient_id, admission_date, primary_diagnosis,
			attending_physician_id, bed_number, status, previous_episode_id, is_readmission, readmission_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING version, created_at, updated_at`,
		e.ID, e.PatientID, e.AdmissionDate, e.PrimaryDiagnosis,
		e.AttendingPhysicianID, e.BedNumber, e.Status, e.PreviousEpisodeID, e.IsReadmission, e.ReadmissionReason,
	).Scan(&e.Version, &e.CreatedAt, &e.UpdatedAt)
	if cerr := admitConflict(err, e.BedNumber); cerr != nil {
		return cerr
	}
	if err != nil {
		return fmt.Errorf("insert admission episode: %w", err)
	}
	return nil
}

func (r *episodeRepoPG) one(ctx context.Context, query string, args ...interface{}) (*Episode, error) {
	e, err := scanEpisode(r.conn(ctx).QueryRow(ctx, `SELECT `+episodeCols+` FROM admission_episode `+query, args...))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get admission episode: %w", err)
	}
	return e, nil
}

func (r *episodeRepoPG) ActiveOnBed(ctx context.Context, bed string) (*Episode, error) {
	return r.one(ctx, `WHERE bed_number = $1 AND status = 'Active'`, bed)
}

func (r *episodeRepoPG) Active(ctx context.Context, patientID uuid.UUID) (*Episode, error) {
	return r.one(ctx, `WHERE patient_id = $1 AND status = 'Active'`, patientID)
}

func (r *episodeRepoPG) LatestDischarged(ctx context.Context, patientID uuid.UUID) (*Episode, error) {
	return r.one(ctx, `WHERE patient_id = $1 AND status = 'Discharged'
		ORDER BY discharge_date DESC LIMIT 1`, patientID)
}

func (r *episodeRepoPG) Close(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE admission_episode SET status = 'Discharged', discharge_date = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'Active'`, id, at)
	if err != nil {
		return fmt.Errorf("close admission episode: %w", err)
	}
	return nil
}

func (r *episodeRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Episode, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+episodeCols+` FROM admission_episode
		WHERE patient_id = $1 ORDER BY admission_date DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list admission episodes: %w", err)
	}
	defer rows.Close()
	var items []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// =========== Discharge Repository ===========

type dischargeRepoPG struct {
	pool *pgxpool.Pool
}

func NewDischargeRepoPG(pool *pgxpool.Pool) DischargeRepository {
	return &dischargeRepoPG{pool: pool}
}

func (r *dischargeRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const dischargeCols = `d.id, d.patient_id, d.episode_id, d.discharge_date, d.discharge_diagnosis,
	d.discharge_summary, d.discharge_medications, d.follow_up_instructions, d.discharge_condition,
	d.discharged_by, d.version, d.created_at, d.updated_at, p.name, p.mrn`

func scanDischarge(row pgx.Row) (*Discharge, error) {
	var d Discharge
	err := row.Scan(&d.ID, &d.PatientID, &d.EpisodeID, &d.DischargeDate, &d.DischargeDiagnosis,
		&d.DischargeSummary, &d.DischargeMedications, &d.FollowUpInstructions, &d.DischargeCondition,
		&d.DischargedBy, &d.Version, &d.CreatedAt, &d.UpdatedAt, &d.PatientName, &d.PatientMRN)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *dischargeRepoPG) Create(ctx context.Context, d *Discharge) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO discharge (id, patient_id, episode_id, discharge_date, discharge_diagnosis,
			discharge_summary, discharge_medications, follow_up_instructions, discharge_condition, discharged_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING version, created_at, updated_at`,
		d.ID, d.PatientID, d.EpisodeID, d.DischargeDate, d.DischargeDiagnosis,
		d.DischargeSummary, d.DischargeMedications, d.FollowUpInstructions, d.DischargeCondition, d.DischargedBy,
	).Scan(&d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert discharge: %w", err)
	}
	return nil
}

func (r *dischargeRepoPG) ListBetween(ctx context.Context, start, end time.Time, limit, offset int) ([]*Discharge, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM discharge WHERE discharge_date >= $1 AND discharge_date <= $2`,
		start, end).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count discharges: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+dischargeCols+` FROM discharge d JOIN patient p ON p.id = d.patient_id
		WHERE d.discharge_date >= $1 AND d.discharge_date <= $2
		ORDER BY d.discharge_date DESC
		LIMIT $3 OFFSET $4`, start, end, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list discharges: %w", err)
	}
	defer rows.Close()
	var items []*Discharge
	for rows.Next() {
		d, err := scanDischarge(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *dischargeRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Discharge, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+dischargeCols+` FROM discharge d JOIN patient p ON p.id = d.patient_id
		WHERE d.patient_id = $1 ORDER BY d.discharge_date DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient discharges: %w", err)
	}
	defer rows.Close()
	var items []*Discharge
	for rows.Next() {
		d, err := scanDischarge(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
