package user

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
	"github.com/icu/icu/internal/platform/db"
)

// LoginResult is returned to a client that signed in.
type LoginResult struct {
	Token   string        `json:"token"`
	Session *auth.Session `json:"session"`
}

type Service struct {
	users    Repository
	tx       db.Transactor
	sessions auth.SessionStore
	tokens   *auth.TokenIssuer
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(users Repository, tx db.Transactor, sessions auth.SessionStore, tokens *auth.TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		tx:       tx,
		sessions: sessions,
		tokens:   tokens,
		logger:   logger.With().Str("component", "user").Logger(),
		now:      time.Now,
	}
}

// Login resolves an employee code to a user and opens a session for it.
func (s *Service) Login(ctx context.Context, employeeCode string) (*LoginResult, error) {
	code := strings.TrimSpace(employeeCode)
	if code == "" {
		return nil, apperr.Validation("employee code is required", map[string]string{"employee_code": "required"})
	}
	u, err := s.users.GetByEmployeeCode(ctx, code)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Unauthenticated("invalid employee code")
	}
	if err != nil {
		return nil, apperr.Remote(err, "identity lookup failed")
	}

	sess := auth.NewSession(u.ID, u.EmployeeCode, u.Name, u.Role, s.now())
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, apperr.Remote(err, "could not store session")
	}
	token, err := s.tokens.Issue(sess)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("login")
	return &LoginResult{Token: token, Session: sess}, nil
}

// Logout ends a session. Ending an unknown session is not an error.
func (s *Service) Logout(ctx context.Context, sess *auth.Session) error {
	if sess == nil {
		return nil
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		return apperr.Remote(err, "could not end session")
	}
	return nil
}

func (s *Service) CreateUser(ctx context.Context, in CreateInput) (*User, error) {
	in.EmployeeCode = strings.TrimSpace(in.EmployeeCode)
	in.Name = strings.TrimSpace(in.Name)
	details := map[string]string{}
	if in.EmployeeCode == "" {
		details["employee_code"] = "required"
	}
	if in.Name == "" {
		details["name"] = "required"
	}
	if !in.Role.Valid() {
		details["role"] = "must be Doctor, Nurse or Admin"
	}
	if len(details) > 0 {
		return nil, apperr.Validation("invalid user", details)
	}

	u := &User{EmployeeCode: in.EmployeeCode, Name: in.Name, Role: in.Role}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, limit, offset)
}

// DeleteUser removes a user after moving their attending-physician links to
// another Admin. The caller may not delete themselves.
func (s *Service) DeleteUser(ctx context.Context, actor *auth.Session, id uuid.UUID) error {
	if actor != nil && actor.UserID == id {
		return apperr.Conflict(apperr.CodeInvalidTransition, "you cannot delete your own account")
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.users.GetByID(ctx, id); err != nil {
			return err
		}
		fallback, err := s.users.FallbackAdmin(ctx, id)
		if err != nil {
			return err
		}
		if fallback == nil {
			return apperr.Conflict(apperr.CodeLastAdmin, "cannot delete the last admin user")
		}
		moved, err := s.users.ReassignAttending(ctx, id, fallback.ID)
		if err != nil {
			return err
		}
		if moved > 0 {
			s.logger.Info().
				Str("user_id", id.String()).
				Str("fallback_id", fallback.ID.String()).
				Int64("patients", moved).
				Msg("reassigned attending physician")
		}
		return s.users.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	if err := s.sessions.DeleteUser(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("user_id", id.String()).Msg("could not end sessions of deleted user")
	}
	return nil
}

// Seed creates the first Admin. It is a no-op when the code already exists.
func (s *Service) Seed(ctx context.Context, employeeCode, name string) (*User, bool, error) {
	if u, err := s.users.GetByEmployeeCode(ctx, strings.TrimSpace(employeeCode)); err == nil {
		return u, false, nil
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, false, err
	}
	u, err := s.CreateUser(ctx, CreateInput{EmployeeCode: employeeCode, Name: name, Role: auth.RoleAdmin})
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}
