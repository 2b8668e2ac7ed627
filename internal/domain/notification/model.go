package notification

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeStatus     Type = "status"
	TypeMedication Type = "medication"
	TypeLab        Type = "lab"
	TypeDischarge  Type = "discharge"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is addressed to one user. Only Read changes after creation.
type Notification struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Type      Type       `db:"type" json:"type"`
	Message   string     `db:"message" json:"message"`
	Severity  Severity   `db:"severity" json:"severity"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	PatientID *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	Read      bool       `db:"read" json:"read"`
	DedupeKey *string    `db:"dedupe_key" json:"-"`
	Version   int64      `db:"version" json:"version"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

func (n Notification) RecordID() string { return n.ID.String() }

func (n Notification) RecordVersion() int64 { return n.Version }

// WithDedupeKey sets the key that makes repeated inserts of the same
// notification a no-op.
func (n *Notification) WithDedupeKey(key string) *Notification {
	n.DedupeKey = &key
	return n
}
