package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
	"github.com/icu/icu/internal/platform/feed"
)

// -- Mock Repository --

type mockNotificationRepo struct {
	records map[uuid.UUID]*Notification
	keys    map[string]bool
	writes  int
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{
		records: make(map[uuid.UUID]*Notification),
		keys:    make(map[string]bool),
	}
}

func (m *mockNotificationRepo) Insert(_ context.Context, n *Notification) (bool, error) {
	if n.DedupeKey != nil {
		if m.keys[*n.DedupeKey] {
			return false, nil
		}
		m.keys[*n.DedupeKey] = true
	}
	n.ID = uuid.New()
	n.Version = 1
	n.CreatedAt = time.Now().Add(time.Duration(len(m.records)) * time.Millisecond)
	m.records[n.ID] = n
	m.writes++
	return true, nil
}

func (m *mockNotificationRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	n, ok := m.records[id]
	if !ok {
		return nil, apperr.NotFound("notification", id.String())
	}
	return n, nil
}

func (m *mockNotificationRepo) ListForUser(_ context.Context, userID uuid.UUID, limit int) ([]*Notification, error) {
	var result []*Notification
	for _, n := range m.records {
		if n.UserID == userID {
			result = append(result, n)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *mockNotificationRepo) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	n := 0
	for _, r := range m.records {
		if r.UserID == userID && !r.Read {
			n++
		}
	}
	return n, nil
}

func (m *mockNotificationRepo) MarkRead(_ context.Context, id uuid.UUID) error {
	m.records[id].Read = true
	m.writes++
	return nil
}

type stubDirectory struct {
	recipients map[uuid.UUID]*Recipient
}

func (d *stubDirectory) Recipient(_ context.Context, id uuid.UUID) (*Recipient, error) {
	r, ok := d.recipients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s not found", id)
	}
	return r, nil
}

func newTestService() (*Service, *mockNotificationRepo) {
	repo := newMockNotificationRepo()
	return NewService(repo, zerolog.Nop()), repo
}

func rowJSON(cols map[string]interface{}) json.RawMessage {
	b, _ := json.Marshal(cols)
	return b
}

// -- Service Tests --

func TestService_Notify_Dedupe(t *testing.T) {
	svc, repo := newTestService()
	user := uuid.New()
	for i := 0; i < 3; i++ {
		n := (&Notification{Type: TypeLab, Message: "New CBC result: Normal", UserID: user}).WithDedupeKey("lab_result:1:1")
		if err := svc.Notify(context.Background(), n); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(repo.records) != 1 {
		t.Errorf("expected 1 notification, got %d", len(repo.records))
	}
}

func TestService_Notify_DefaultsSeverity(t *testing.T) {
	svc, repo := newTestService()
	n := &Notification{Type: TypeStatus, Message: "hello", UserID: uuid.New()}
	if err := svc.Notify(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.records[n.ID].Severity != SeverityInfo {
		t.Errorf("expected info severity, got %s", repo.records[n.ID].Severity)
	}
}

func TestService_Notify_NoAddressee(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.Notify(context.Background(), &Notification{Message: "x"}); err == nil {
		t.Error("expected error for missing addressee")
	}
}

func TestService_ListForUser_Limit(t *testing.T) {
	svc, _ := newTestService()
	user := uuid.New()
	for i := 0; i < 15; i++ {
		svc.Notify(context.Background(), &Notification{Type: TypeStatus, Message: fmt.Sprint(i), UserID: user})
	}
	svc.Notify(context.Background(), &Notification{Type: TypeStatus, Message: "other", UserID: uuid.New()})

	items, err := svc.ListForUser(context.Background(), user, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != DefaultListLimit {
		t.Fatalf("expected %d items, got %d", DefaultListLimit, len(items))
	}
	if items[0].Message != "14" {
		t.Errorf("expected newest first, got %s", items[0].Message)
	}
}

func TestService_MarkRead(t *testing.T) {
	svc, repo := newTestService()
	user := uuid.New()
	n := &Notification{Type: TypeStatus, Message: "x", UserID: user}
	svc.Notify(context.Background(), n)
	sess := &auth.Session{UserID: user, Role: auth.RoleNurse}

	if _, err := svc.MarkRead(context.Background(), sess, n.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	writes := repo.writes
	if _, err := svc.MarkRead(context.Background(), sess, n.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.writes != writes {
		t.Error("expected second mark read to be a no-op")
	}
	if !repo.records[n.ID].Read {
		t.Error("expected notification read")
	}
}

func TestService_MarkRead_OtherUser(t *testing.T) {
	svc, repo := newTestService()
	n := &Notification{Type: TypeStatus, Message: "x", UserID: uuid.New()}
	svc.Notify(context.Background(), n)

	_, err := svc.MarkRead(context.Background(), &auth.Session{UserID: uuid.New()}, n.ID)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if repo.records[n.ID].Read {
		t.Error("notification must stay unread")
	}
}

// -- Projector Tests --

func newTestProjector() (*Projector, *mockNotificationRepo, uuid.UUID, uuid.UUID) {
	svc, repo := newTestService()
	patientID, attending := uuid.New(), uuid.New()
	dir := &stubDirectory{recipients: map[uuid.UUID]*Recipient{
		patientID: {PatientID: patientID, PatientName: "Jane Doe", AttendingID: attending},
	}}
	return NewProjector(svc, dir, zerolog.Nop()), repo, patientID, attending
}

func only(t *testing.T, repo *mockNotificationRepo) *Notification {
	t.Helper()
	if len(repo.records) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(repo.records))
	}
	for _, n := range repo.records {
		return n
	}
	return nil
}

func TestProjector_LabInsert(t *testing.T) {
	p, repo, patientID, attending := newTestProjector()
	ev := feed.Event{
		Type: feed.Insert, Table: feed.TableLabResult, RowID: uuid.NewString(), Version: 1,
		New: rowJSON(map[string]interface{}{"patient_id": patientID, "test_name": "Potassium", "status": "Critical"}),
	}
	p.Handle(context.Background(), ev)
	p.Handle(context.Background(), ev)

	n := only(t, repo)
	if n.Type != TypeLab || n.Severity != SeverityCritical || n.UserID != attending {
		t.Errorf("unexpected notification %+v", n)
	}
	if n.Message != "New Potassium result: Critical" {
		t.Errorf("unexpected message %q", n.Message)
	}
}

func TestProjector_LabInsert_Normal(t *testing.T) {
	p, repo, patientID, _ := newTestProjector()
	p.Handle(context.Background(), feed.Event{
		Type: feed.Insert, Table: feed.TableLabResult, RowID: uuid.NewString(), Version: 1,
		New: rowJSON(map[string]interface{}{"patient_id": patientID, "test_name": "CBC", "status": "Normal"}),
	})
	if n := only(t, repo); n.Severity != SeverityInfo {
		t.Errorf("expected info, got %s", n.Severity)
	}
}

func TestProjector_ProcedureUnsuccessful(t *testing.T) {
	p, repo, patientID, _ := newTestProjector()
	p.Handle(context.Background(), feed.Event{
		Type: feed.Insert, Table: feed.TableProcedure, RowID: uuid.NewString(), Version: 1,
		New: rowJSON(map[string]interface{}{"patient_id": patientID, "name": "Central line", "outcome": "Unsuccessful"}),
	})
	n := only(t, repo)
	if n.Type != TypeStatus || n.Severity != SeverityWarning || n.Message != "New procedure recorded: Central line" {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestProjector_MedicationStatusChange(t *testing.T) {
	p, repo, patientID, _ := newTestProjector()
	row := func(status string) json.RawMessage {
		return rowJSON(map[string]interface{}{"patient_id": patientID, "name": "Heparin", "status": status})
	}
	p.Handle(context.Background(), feed.Event{
		Type: feed.Update, Table: feed.TableMedication, RowID: uuid.NewString(), Version: 2,
		New: row("Discontinued"), Old: row("Active"),
	})
	if n := only(t, repo); n.Message != "Medication Heparin discontinued" || n.Type != TypeMedication {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestProjector_MedicationUnchangedStatus(t *testing.T) {
	p, repo, patientID, _ := newTestProjector()
	row := rowJSON(map[string]interface{}{"patient_id": patientID, "name": "Heparin", "status": "Active"})
	p.Handle(context.Background(), feed.Event{
		Type: feed.Update, Table: feed.TableMedication, RowID: uuid.NewString(), Version: 2, New: row, Old: row,
	})
	if len(repo.records) != 0 {
		t.Errorf("expected no notification, got %d", len(repo.records))
	}
}

func TestProjector_PatientConditionCritical(t *testing.T) {
	p, repo, patientID, attending := newTestProjector()
	row := func(cond string) json.RawMessage {
		return rowJSON(map[string]interface{}{
			"id": patientID, "name": "Jane Doe", "condition": cond,
			"discharge_status": "Admitted", "attending_physician_id": attending,
		})
	}
	p.Handle(context.Background(), feed.Event{
		Type: feed.Update, Table: feed.TablePatient, RowID: patientID.String(), Version: 3,
		New: row("Critical"), Old: row("Active"),
	})
	n := only(t, repo)
	if n.Severity != SeverityCritical || n.UserID != attending || *n.PatientID != patientID {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestProjector_IgnoresOtherTables(t *testing.T) {
	p, repo, patientID, _ := newTestProjector()
	p.Handle(context.Background(), feed.Event{
		Type: feed.Insert, Table: feed.TableVitals, RowID: uuid.NewString(), Version: 1,
		New: rowJSON(map[string]interface{}{"patient_id": patientID}),
	})
	if len(repo.records) != 0 {
		t.Error("vitals must not produce notifications")
	}
}
