package user

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
)

// -- Mock Repository --

type mockUserRepo struct {
	records   map[uuid.UUID]*User
	attending map[uuid.UUID]uuid.UUID // patient id -> attending id
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		records:   make(map[uuid.UUID]*User),
		attending: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	for _, existing := range m.records {
		if existing.EmployeeCode == u.EmployeeCode {
			return apperr.Conflict(apperr.CodeDuplicateEmployeeCode, "employee code already exists")
		}
	}
	u.ID = uuid.New()
	u.Version = 1
	u.CreatedAt = time.Now().Add(time.Duration(len(m.records)) * time.Second)
	u.UpdatedAt = u.CreatedAt
	m.records[u.ID] = u
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.records[id]
	if !ok {
		return nil, apperr.NotFound("user", id.String())
	}
	return u, nil
}

func (m *mockUserRepo) GetByEmployeeCode(_ context.Context, code string) (*User, error) {
	for _, u := range m.records {
		if u.EmployeeCode == code {
			return u, nil
		}
	}
	return nil, apperr.NotFound("user", code)
}

func (m *mockUserRepo) List(_ context.Context, limit, offset int) ([]*User, int, error) {
	var result []*User
	for _, u := range m.records {
		result = append(result, u)
	}
	return result, len(result), nil
}

func (m *mockUserRepo) FallbackAdmin(_ context.Context, exclude uuid.UUID) (*User, error) {
	var best *User
	for _, u := range m.records {
		if u.Role != auth.RoleAdmin || u.ID == exclude {
			continue
		}
		if best == nil || u.CreatedAt.Before(best.CreatedAt) {
			best = u
		}
	}
	return best, nil
}

func (m *mockUserRepo) ReassignAttending(_ context.Context, from, to uuid.UUID) (int64, error) {
	var n int64
	for pid, aid := range m.attending {
		if aid == from {
			m.attending[pid] = to
			n++
		}
	}
	return n, nil
}

func (m *mockUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.records[id]; !ok {
		return apperr.NotFound("user", id.String())
	}
	delete(m.records, id)
	return nil
}

type directTx struct{}

func (directTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *mockUserRepo, *auth.MemoryStore) {
	repo := newMockUserRepo()
	store := auth.NewMemoryStore(15 * time.Minute)
	tokens := auth.NewTokenIssuer([]byte("test-secret-key-for-unit-tests-only"))
	return NewService(repo, directTx{}, store, tokens, zerolog.Nop()), repo, store
}

func mustCreate(t *testing.T, svc *Service, code string, role auth.Role) *User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), CreateInput{EmployeeCode: code, Name: "User " + code, Role: role})
	if err != nil {
		t.Fatalf("create %s: %v", code, err)
	}
	return u
}

// -- Tests --

func TestService_Login(t *testing.T) {
	svc, _, store := newTestService()
	u := mustCreate(t, svc, "D001", auth.RoleDoctor)

	res, err := svc.Login(context.Background(), " D001 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Token == "" {
		t.Error("expected a token")
	}
	if res.Session.UserID != u.ID || res.Session.Role != auth.RoleDoctor {
		t.Errorf("unexpected session %+v", res.Session)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 stored session, got %d", store.Len())
	}
}

func TestService_Login_UnknownCode(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Login(context.Background(), "NOPE")
	if !apperr.Is(err, apperr.KindUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestService_Login_EmptyCode(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Login(context.Background(), "  ")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_Logout(t *testing.T) {
	svc, _, store := newTestService()
	mustCreate(t, svc, "N001", auth.RoleNurse)
	res, _ := svc.Login(context.Background(), "N001")

	if err := svc.Logout(context.Background(), res.Session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected session removed, %d left", store.Len())
	}
}

func TestService_CreateUser_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.CreateUser(context.Background(), CreateInput{Role: "Janitor"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	ae := err.(*apperr.Error)
	for _, f := range []string{"employee_code", "name", "role"} {
		if _, ok := ae.Details[f]; !ok {
			t.Errorf("expected detail for %s", f)
		}
	}
}

func TestService_CreateUser_DuplicateCode(t *testing.T) {
	svc, _, _ := newTestService()
	mustCreate(t, svc, "D001", auth.RoleDoctor)
	_, err := svc.CreateUser(context.Background(), CreateInput{EmployeeCode: "D001", Name: "Other", Role: auth.RoleNurse})
	if !apperr.HasCode(err, apperr.CodeDuplicateEmployeeCode) {
		t.Fatalf("expected duplicate code conflict, got %v", err)
	}
}

func TestService_DeleteUser_ReassignsAttending(t *testing.T) {
	svc, repo, store := newTestService()
	admin := mustCreate(t, svc, "A001", auth.RoleAdmin)
	doc := mustCreate(t, svc, "D001", auth.RoleDoctor)
	patient := uuid.New()
	repo.attending[patient] = doc.ID
	res, _ := svc.Login(context.Background(), "D001")

	actor := auth.NewSession(admin.ID, admin.EmployeeCode, admin.Name, auth.RoleAdmin, time.Now())
	if err := svc.DeleteUser(context.Background(), actor, doc.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.attending[patient] != admin.ID {
		t.Error("expected patient reassigned to the remaining admin")
	}
	if _, ok := repo.records[doc.ID]; ok {
		t.Error("expected user deleted")
	}
	if _, err := store.Touch(context.Background(), res.Session.ID, time.Now()); err == nil {
		t.Error("expected deleted user's session to be gone")
	}
}

func TestService_DeleteUser_LastAdmin(t *testing.T) {
	svc, repo, _ := newTestService()
	admin := mustCreate(t, svc, "A001", auth.RoleAdmin)
	doc := mustCreate(t, svc, "D001", auth.RoleDoctor)

	actor := auth.NewSession(doc.ID, doc.EmployeeCode, doc.Name, auth.RoleDoctor, time.Now())
	err := svc.DeleteUser(context.Background(), actor, admin.ID)
	if !apperr.HasCode(err, apperr.CodeLastAdmin) {
		t.Fatalf("expected LAST_ADMIN, got %v", err)
	}
	if _, ok := repo.records[admin.ID]; !ok {
		t.Error("admin must not be deleted")
	}
}

func TestService_DeleteUser_Self(t *testing.T) {
	svc, _, _ := newTestService()
	admin := mustCreate(t, svc, "A001", auth.RoleAdmin)
	mustCreate(t, svc, "A002", auth.RoleAdmin)

	actor := auth.NewSession(admin.ID, admin.EmployeeCode, admin.Name, auth.RoleAdmin, time.Now())
	if err := svc.DeleteUser(context.Background(), actor, admin.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict on self delete, got %v", err)
	}
}

func TestService_DeleteUser_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	mustCreate(t, svc, "A001", auth.RoleAdmin)
	err := svc.DeleteUser(context.Background(), nil, uuid.New())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestService_Seed_Idempotent(t *testing.T) {
	svc, repo, _ := newTestService()
	u, created, err := svc.Seed(context.Background(), "A001", "Admin")
	if err != nil || !created {
		t.Fatalf("expected seed to create, got %v %v", created, err)
	}
	again, created, err := svc.Seed(context.Background(), "A001", "Admin")
	if err != nil || created || again.ID != u.ID {
		t.Fatalf("expected seed no-op, got %v %v", created, err)
	}
	if len(repo.records) != 1 {
		t.Errorf("expected 1 user, got %d", len(repo.records))
	}
}
