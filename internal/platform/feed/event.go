// Package feed carries row change events from the record store to
// subscribers. The store's commit order is the only write order; consumers
// fold events into local state and never the return value of their own writes.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EventType is the kind of row change.
type EventType string

const (
	Insert EventType = "insert"
	Update EventType = "update"
	Delete EventType = "delete"
)

// Tables that publish change events.
const (
	TablePatient      = "patient"
	TableEpisode      = "admission_episode"
	TableDischarge    = "discharge"
	TableVitals       = "vitals"
	TableMedication   = "medication"
	TableLabResult    = "lab_result"
	TableProcedure    = "procedure"
	TableProgressNote = "progress_note"
	TableNotification = "notification"
	TableUser         = "app_user"
)

// Event is one committed row change. Version increases with every write to
// the row; a delete carries the version after the last write.
type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	Table       string          `json:"table"`
	RowID       string          `json:"row_id"`
	Version     int64           `json:"version"`
	New         json.RawMessage `json:"new,omitempty"`
	Old         json.RawMessage `json:"old,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
	Truncated   bool            `json:"truncated,omitempty"`
}

// EventID is the stable identity of a row change; redeliveries share it.
func EventID(table, rowID string, version int64) string {
	return table + ":" + rowID + ":" + strconv.FormatInt(version, 10)
}

// Row returns the row image: New for inserts and updates, Old for deletes.
func (e Event) Row() json.RawMessage {
	if e.Type == Delete {
		return e.Old
	}
	return e.New
}

// Field decodes a single top-level column from the row image. It returns
// the empty string if the column is absent or null.
func (e Event) Field(name string) string {
	return field(e.Row(), name)
}

// OldField decodes a column from the pre-update row image.
func (e Event) OldField(name string) string {
	return field(e.Old, name)
}

func field(row json.RawMessage, name string) string {
	if len(row) == 0 {
		return ""
	}
	var cols map[string]json.RawMessage
	if err := json.Unmarshal(row, &cols); err != nil {
		return ""
	}
	raw, ok := cols[name]
	if !ok || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Decode parses a notification payload.
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode change event: %w", err)
	}
	if ev.Table == "" || ev.RowID == "" {
		return Event{}, fmt.Errorf("decode change event: missing table or row id")
	}
	switch ev.Type {
	case Insert, Update, Delete:
	default:
		return Event{}, fmt.Errorf("decode change event: unknown type %q", ev.Type)
	}
	if ev.ID == "" {
		ev.ID = EventID(ev.Table, ev.RowID, ev.Version)
	}
	return ev, nil
}

// Topic prefixes.
const (
	TopicTablePrefix   = "table:"
	TopicPatientPrefix = "patient:"
	TopicUserPrefix    = "user:"
)

// TableTopic carries every change to table.
func TableTopic(table string) string { return TopicTablePrefix + table }

// PatientTopic carries changes to a patient row and its clinical rows.
func PatientTopic(id string) string { return TopicPatientPrefix + id }

// UserTopic carries notifications addressed to a user.
func UserTopic(id string) string { return TopicUserPrefix + id }

// Topics returns every topic the event is published on. Notifications are
// only published to their addressee. User rows carry login codes and are
// never published to clients.
func Topics(ev Event) []string {
	if ev.Table == TableUser {
		return nil
	}
	if ev.Table == TableNotification {
		if uid := ev.Field("user_id"); uid != "" {
			return []string{UserTopic(uid)}
		}
		return nil
	}

	topics := []string{TableTopic(ev.Table)}
	switch {
	case ev.Table == TablePatient:
		topics = append(topics, PatientTopic(ev.RowID))
	case ev.Field("patient_id") != "":
		topics = append(topics, PatientTopic(ev.Field("patient_id")))
	}
	return topics
}

// Sink consumes change events. Handle must not block for long; the listener
// calls sinks sequentially in commit order.
type Sink interface {
	Handle(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }
