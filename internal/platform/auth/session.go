package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role is a staff role.
type Role string

const (
	RoleDoctor Role = "Doctor"
	RoleNurse  Role = "Nurse"
	RoleAdmin  Role = "Admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RoleNurse, RoleAdmin:
		return true
	}
	return false
}

// Session is the identity issued at login. It is passed down explicitly to
// every operation that attributes or authorizes work.
type Session struct {
	ID           string    `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	EmployeeCode string    `json:"employee_code"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	IssuedAt     time.Time `json:"issued_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// NewSession creates a session for a resolved identity.
func NewSession(userID uuid.UUID, employeeCode, name string, role Role, now time.Time) *Session {
	return &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		EmployeeCode: employeeCode,
		Name:         name,
		Role:         role,
		IssuedAt:     now,
		LastSeen:     now,
	}
}

// ErrSessionNotFound is returned for unknown, deleted or idle-expired sessions.
var ErrSessionNotFound = errors.New("session not found or expired")

// SessionStore keeps live sessions. Touch refreshes LastSeen and fails with
// ErrSessionNotFound once the session has been idle past the store's timeout.
// Lookup applies the same liveness rule without refreshing LastSeen.
type SessionStore interface {
	Save(ctx context.Context, s *Session) error
	Touch(ctx context.Context, id string, now time.Time) (*Session, error)
	Lookup(ctx context.Context, id string, now time.Time) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

type sessionKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session attached by the authentication
// middleware, or nil.
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
