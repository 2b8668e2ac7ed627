package user

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmployeeCode(ctx context.Context, code string) (*User, error)
	List(ctx context.Context, limit, offset int) ([]*User, int, error)
	// FallbackAdmin returns an Admin other than exclude, or nil if there is none.
	FallbackAdmin(ctx context.Context, exclude uuid.UUID) (*User, error)
	// ReassignAttending moves every patient and active episode attended by
	// from to to, returning the number of patients moved.
	ReassignAttending(ctx context.Context, from, to uuid.UUID) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
