package icuclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/icu/icu/internal/domain/clinical"
	"github.com/icu/icu/internal/platform/feed"
)

// Aggregator is a live list of one patient's clinical rows. Load seeds it
// from the API and Apply keeps it current from the feed. Create only writes:
// the new row appears once its change event arrives.
type Aggregator[T feed.Record] struct {
	client    *Client
	patientID uuid.UUID
	path      string
	cache     *feed.Cache[T]
}

func newAggregator[T feed.Record](c *Client, patientID uuid.UUID, table, resource string,
	owner func(T) uuid.UUID, before func(a, b T) bool) *Aggregator[T] {
	return &Aggregator[T]{
		client:    c,
		patientID: patientID,
		path:      fmt.Sprintf("/patients/%s/%s", patientID, resource),
		cache:     feed.NewCache(table, before, func(row T) bool { return owner(row) == patientID }),
	}
}

// Topic is the feed topic carrying this patient's rows.
func (a *Aggregator[T]) Topic() string {
	return feed.PatientTopic(a.patientID.String())
}

// Load fetches the current rows and seeds the cache.
func (a *Aggregator[T]) Load(ctx context.Context) error {
	var rows []T
	if err := a.client.do(ctx, http.MethodGet, a.path+"?limit=100", nil, &rows); err != nil {
		return err
	}
	a.cache.Seed(rows)
	return nil
}

// List returns the rows, most recent first.
func (a *Aggregator[T]) List() []T {
	return a.cache.List()
}

func (a *Aggregator[T]) Apply(ev feed.Event) (bool, error) {
	return a.cache.Apply(ev)
}

// Create posts a new row and returns its id.
func (a *Aggregator[T]) Create(ctx context.Context, payload interface{}) (uuid.UUID, error) {
	var out clinical.Accepted
	if err := a.client.do(ctx, http.MethodPost, a.path, payload, &out); err != nil {
		return uuid.Nil, err
	}
	return out.ID, nil
}

// -- Per-entity aggregators --

// Vitals calls OnCriticalVitals for applied inserts outside the alert
// thresholds. Every client alerts independently.
type Vitals struct {
	*Aggregator[clinical.Vitals]
	OnCriticalVitals func(v clinical.Vitals)
}

func (c *Client) Vitals(patientID uuid.UUID) *Vitals {
	return &Vitals{Aggregator: newAggregator(c, patientID, feed.TableVitals, "vitals",
		func(v clinical.Vitals) uuid.UUID { return v.PatientID },
		func(a, b clinical.Vitals) bool { return a.RecordedAt.After(b.RecordedAt) })}
}

func (v *Vitals) Apply(ev feed.Event) (bool, error) {
	changed, err := v.Aggregator.Apply(ev)
	if err != nil || !changed || ev.Type != feed.Insert || v.OnCriticalVitals == nil {
		return changed, err
	}
	if row, ok := v.cache.Get(ev.RowID); ok && clinical.ExceedsVitalThresholds(&row) {
		v.OnCriticalVitals(row)
	}
	return changed, nil
}

type Medications struct {
	*Aggregator[clinical.Medication]
}

func (c *Client) Medications(patientID uuid.UUID) *Medications {
	return &Medications{newAggregator(c, patientID, feed.TableMedication, "medications",
		func(m clinical.Medication) uuid.UUID { return m.PatientID },
		func(a, b clinical.Medication) bool { return a.StartDate.After(b.StartDate) })}
}

// UpdateStatus changes a medication's status. The list reflects it once the
// update event arrives.
func (m *Medications) UpdateStatus(ctx context.Context, id uuid.UUID, status clinical.MedicationStatus) error {
	return m.client.do(ctx, http.MethodPatch, fmt.Sprintf("/medications/%s/status", id),
		map[string]clinical.MedicationStatus{"status": status}, nil)
}

func (c *Client) Labs(patientID uuid.UUID) *Aggregator[clinical.LabResult] {
	return newAggregator(c, patientID, feed.TableLabResult, "labs",
		func(l clinical.LabResult) uuid.UUID { return l.PatientID },
		func(a, b clinical.LabResult) bool { return a.ResultedAt.After(b.ResultedAt) })
}

func (c *Client) Procedures(patientID uuid.UUID) *Aggregator[clinical.Procedure] {
	return newAggregator(c, patientID, feed.TableProcedure, "procedures",
		func(p clinical.Procedure) uuid.UUID { return p.PatientID },
		func(a, b clinical.Procedure) bool { return a.PerformedAt.After(b.PerformedAt) })
}

func (c *Client) Notes(patientID uuid.UUID) *Aggregator[clinical.ProgressNote] {
	return newAggregator(c, patientID, feed.TableProgressNote, "notes",
		func(n clinical.ProgressNote) uuid.UUID { return n.PatientID },
		func(a, b clinical.ProgressNote) bool { return a.NoteDate.After(b.NoteDate) })
}
