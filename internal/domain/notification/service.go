package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
)

// DefaultListLimit is how many notifications the panel shows.
const DefaultListLimit = 10

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "notification").Logger()}
}

// Notify stores a notification. Repeating a notification with the same
// dedupe key is a no-op.
func (s *Service) Notify(ctx context.Context, n *Notification) error {
	if n.UserID == uuid.Nil {
		return fmt.Errorf("notification has no addressee")
	}
	if n.Message == "" {
		return fmt.Errorf("notification has no message")
	}
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	created, err := s.repo.Insert(ctx, n)
	if err != nil {
		return err
	}
	if !created {
		s.logger.Debug().Str("user_id", n.UserID.String()).Msg("duplicate notification skipped")
	}
	return nil
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = DefaultListLimit
	}
	return s.repo.ListForUser(ctx, userID, limit)
}

func (s *Service) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead flips the read flag. Only the addressee may do this; marking an
// already read notification succeeds without a write.
func (s *Service) MarkRead(ctx context.Context, sess *auth.Session, id uuid.UUID) (*Notification, error) {
	if sess == nil {
		return nil, apperr.Unauthenticated("not signed in")
	}
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != sess.UserID {
		// Indistinguishable from a missing row to other users.
		return nil, apperr.NotFound("notification", id.String())
	}
	if n.Read {
		return n, nil
	}
	if err := s.repo.MarkRead(ctx, id); err != nil {
		return nil, err
	}
	n.Read = true
	return n, nil
}
