package notification

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert stores n unless a notification with the same dedupe key exists.
	// It reports whether a row was written.
	Insert(ctx context.Context, n *Notification) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
}
