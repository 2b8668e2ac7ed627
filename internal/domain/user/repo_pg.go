package user

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/db"
)

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, employee_code, name, role, version, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.EmployeeCode, &u.Name, &u.Role, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO app_user (id, employee_code, name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING version, created_at, updated_at`,
		u.ID, u.EmployeeCode, u.Name, u.Role,
	).Scan(&u.Version, &u.CreatedAt, &u.UpdatedAt)
	if db.IsUniqueViolation(err, "app_user_employee_code_key") {
		return apperr.Conflict(apperr.CodeDuplicateEmployeeCode, "employee code already exists")
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM app_user WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("user", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) GetByEmployeeCode(ctx context.Context, code string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM app_user WHERE employee_code = $1`, code))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("user", code)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by employee code: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM app_user`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+userCols+` FROM app_user
		ORDER BY name, employee_code
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (r *userRepoPG) FallbackAdmin(ctx context.Context, exclude uuid.UUID) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `
		SELECT `+userCols+` FROM app_user
		WHERE role = 'Admin' AND id <> $1
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE`, exclude))
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find fallback admin: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) ReassignAttending(ctx context.Context, from, to uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient SET attending_physician_id = $2, updated_at = NOW()
		WHERE attending_physician_id = $1`, from, to)
	if err != nil {
		return 0, fmt.Errorf("reassign patients: %w", err)
	}
	if _, err := r.conn(ctx).Exec(ctx, `
		UPDATE admission_episode SET attending_physician_id = $2, updated_at = NOW()
		WHERE attending_physician_id = $1`, from, to); err != nil {
		return 0, fmt.Errorf("reassign episodes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *userRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM app_user WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user", id.String())
	}
	return nil
}
