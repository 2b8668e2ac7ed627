package user

import (
	"time"

	"github.com/google/uuid"

	"github.com/icu/icu/internal/platform/auth"
)

// User is a staff member who can sign in with an employee code.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	EmployeeCode string    `db:"employee_code" json:"employee_code"`
	Name         string    `db:"name" json:"name"`
	Role         auth.Role `db:"role" json:"role"`
	Version      int64     `db:"version" json:"version"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// CreateInput is the admin form for a new user.
type CreateInput struct {
	EmployeeCode string    `json:"employee_code"`
	Name         string    `json:"name"`
	Role         auth.Role `json:"role"`
}
