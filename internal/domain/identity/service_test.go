package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/internal/platform/db"
	"github.com/labbook/labbook/internal/platform/notification"
)

// -- Mock User Repository --

type mockUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockUserRepo) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *mockUserRepo) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}

func (m *mockUserRepo) List(_ context.Context, f UserFilter, limit, offset int) ([]*User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*User
	for _, u := range m.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(u.Name+u.Email, f.Search) {
			continue
		}
		result = append(result, u)
	}
	return result, len(result), nil
}

// -- Mock Sales Executive Repository --

type mockSalesExecRepo struct {
	mu    sync.Mutex
	execs map[uuid.UUID]*SalesExecutive
}

func newMockSalesExecRepo() *mockSalesExecRepo {
	return &mockSalesExecRepo{execs: make(map[uuid.UUID]*SalesExecutive)}
}

func (m *mockSalesExecRepo) Create(_ context.Context, se *SalesExecutive) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	se.ID = uuid.New()
	cp := *se
	m.execs[se.ID] = &cp
	return nil
}

func (m *mockSalesExecRepo) GetByID(_ context.Context, id uuid.UUID) (*SalesExecutive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *se
	return &cp, nil
}

func (m *mockSalesExecRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*SalesExecutive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, se := range m.execs {
		if se.UserID == userID {
			cp := *se
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockSalesExecRepo) SetCommissionRate(_ context.Context, id uuid.UUID, rate decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.execs[id]
	if !ok {
		return ErrNotFound
	}
	se.CommissionRate = rate
	return nil
}

func (m *mockSalesExecRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	se, ok := m.execs[id]
	if !ok {
		return ErrNotFound
	}
	se.Active = active
	return nil
}

func (m *mockSalesExecRepo) List(_ context.Context, limit, offset int) ([]*SalesExecutive, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SalesExecutive
	for _, se := range m.execs {
		out = append(out, se)
	}
	return out, len(out), nil
}

// -- Mock collaborators --

type mockSessions struct {
	issued  []auth.Subject
	revoked []uuid.UUID
}

func (m *mockSessions) Issue(s auth.Subject) (string, time.Time, error) {
	m.issued = append(m.issued, s)
	return "token-" + s.UserID.String(), time.Now().Add(time.Hour), nil
}

func (m *mockSessions) Revoke(p *auth.Principal) {}

func (m *mockSessions) RevokeUser(id uuid.UUID) { m.revoked = append(m.revoked, id) }

type mockLabs map[uuid.UUID]bool

func (m mockLabs) LabExists(_ context.Context, id uuid.UUID) (bool, error) { return m[id], nil }

type notifyCall struct {
	template string
	to       string
}

type mockNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (m *mockNotifier) Notify(_ context.Context, templateID, to string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, notifyCall{templateID, to})
	return nil
}

type testEnv struct {
	svc      *Service
	users    *mockUserRepo
	execs    *mockSalesExecRepo
	sessions *mockSessions
	notifier *mockNotifier
	labID    uuid.UUID
}

func newTestEnv() *testEnv {
	env := &testEnv{
		users:    newMockUserRepo(),
		execs:    newMockSalesExecRepo(),
		sessions: &mockSessions{},
		notifier: &mockNotifier{},
		labID:    uuid.New(),
	}
	env.svc = NewService(env.users, env.execs, db.NoTx{}, env.sessions, decimal.NewFromInt(10))
	env.svc.SetBcryptCost(bcrypt.MinCost)
	env.svc.SetLabLookup(mockLabs{env.labID: true})
	env.svc.SetNotifier(env.notifier)
	return env
}

func newTestService() *Service {
	return newTestEnv().svc
}

// -- Tests --

func TestRegisterPatient(t *testing.T) {
	env := newTestEnv()
	u, err := env.svc.RegisterPatient(context.Background(), RegisterInput{
		Name: " Asha Rao ", Email: " Asha@Example.COM ", Password: "correct-horse",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Email != "asha@example.com" || u.Name != "Asha Rao" {
		t.Errorf("expected normalized fields, got %q / %q", u.Email, u.Name)
	}
	if u.Role != auth.RolePatient || u.Status != StatusActive {
		t.Errorf("unexpected role/status %s/%s", u.Role, u.Status)
	}
	if u.PasswordHash == "correct-horse" || u.PasswordHash == "" {
		t.Error("expected password to be hashed")
	}
	if len(env.notifier.calls) != 1 || env.notifier.calls[0].template != notification.TemplateWelcome {
		t.Errorf("expected welcome email, got %v", env.notifier.calls)
	}
}

func TestRegisterPatient_Validation(t *testing.T) {
	svc := newTestService()
	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing name", RegisterInput{Email: "a@b.co", Password: "longenough"}},
		{"bad email", RegisterInput{Name: "A", Email: "nope", Password: "longenough"}},
		{"short password", RegisterInput{Name: "A", Email: "a@b.co", Password: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.RegisterPatient(context.Background(), tt.in); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRegisterPatient_DuplicateEmail(t *testing.T) {
	svc := newTestService()
	in := RegisterInput{Name: "A", Email: "a@b.co", Password: "longenough"}
	if _, err := svc.RegisterPatient(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	in.Email = "A@B.CO"
	if _, err := svc.RegisterPatient(context.Background(), in); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	u, _ := env.svc.RegisterPatient(ctx, RegisterInput{Name: "A", Email: "a@b.co", Password: "longenough"})

	res, err := env.svc.Login(ctx, "A@b.co", "longenough")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Token == "" || res.User.ID != u.ID {
		t.Errorf("unexpected login result %+v", res)
	}
	if env.sessions.issued[0].Role != auth.RolePatient {
		t.Errorf("expected patient subject, got %s", env.sessions.issued[0].Role)
	}

	if _, err := env.svc.Login(ctx, "a@b.co", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.svc.Login(ctx, "nobody@b.co", "longenough"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestLogin_SuspendedRejected(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	u, _ := env.svc.RegisterPatient(ctx, RegisterInput{Name: "A", Email: "a@b.co", Password: "longenough"})
	env.users.SetStatus(ctx, u.ID, StatusSuspended)

	if _, err := env.svc.Login(ctx, "a@b.co", "longenough"); !errors.Is(err, ErrSuspended) {
		t.Errorf("expected ErrSuspended, got %v", err)
	}
}

func TestLogin_SalesExecutiveCarriesProfile(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	u, err := env.svc.CreateUser(ctx, CreateUserInput{
		Name: "Sam", Email: "sam@labbook.test", Password: "longenough", Role: auth.RoleSalesExecutive,
	})
	if err != nil {
		t.Fatal(err)
	}
	se, err := env.svc.GetSalesExecutiveByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("expected sales executive profile: %v", err)
	}
	if !se.CommissionRate.Equal(decimal.NewFromInt(10)) || !se.Active {
		t.Errorf("expected default rate 10 and active, got %s/%v", se.CommissionRate, se.Active)
	}

	if _, err := env.svc.Login(ctx, "sam@labbook.test", "longenough"); err != nil {
		t.Fatal(err)
	}
	sub := env.sessions.issued[0]
	if sub.SalesExecID == nil || *sub.SalesExecID != se.ID {
		t.Errorf("expected sales exec id in session subject, got %v", sub.SalesExecID)
	}
}

func TestCreateUser_LabPartnerRules(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.CreateUser(ctx, CreateUserInput{Name: "L", Email: "l@b.co", Password: "longenough", Role: auth.RoleLabPartner})
	if err == nil {
		t.Error("expected error without lab_id")
	}

	missing := uuid.New()
	_, err = env.svc.CreateUser(ctx, CreateUserInput{Name: "L", Email: "l@b.co", Password: "longenough", Role: auth.RoleLabPartner, LabID: &missing})
	if err == nil {
		t.Error("expected error for unknown lab")
	}

	u, err := env.svc.CreateUser(ctx, CreateUserInput{Name: "L", Email: "l@b.co", Password: "longenough", Role: auth.RoleLabPartner, LabID: &env.labID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.LabID == nil || *u.LabID != env.labID {
		t.Error("expected lab id on partner")
	}
}

func TestCreateUser_DropsLabForOtherRoles(t *testing.T) {
	env := newTestEnv()
	u, err := env.svc.CreateUser(context.Background(), CreateUserInput{
		Name: "P", Email: "p@b.co", Password: "longenough", Role: auth.RolePatient, LabID: &env.labID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if u.LabID != nil {
		t.Error("expected lab id to be cleared for non-partner")
	}
}

func TestCreateUser_InvalidRoleAndRate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, CreateUserInput{Name: "X", Email: "x@b.co", Password: "longenough", Role: "doctor"}); err == nil {
		t.Error("expected error for invalid role")
	}
	rate := decimal.NewFromInt(101)
	if _, err := svc.CreateUser(ctx, CreateUserInput{Name: "X", Email: "x@b.co", Password: "longenough", Role: auth.RoleSalesExecutive, CommissionRate: &rate}); err == nil {
		t.Error("expected error for rate above 100")
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	u, _ := env.svc.RegisterPatient(ctx, RegisterInput{Name: "A", Email: "a@b.co", Password: "longenough"})

	if err := env.svc.ChangePassword(ctx, u.ID, "wrong-one", "brand-new-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := env.svc.ChangePassword(ctx, u.ID, "longenough", "longenough"); err == nil {
		t.Error("expected error when reusing the password")
	}
	if err := env.svc.ChangePassword(ctx, u.ID, "longenough", "brand-new-pass"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.sessions.revoked) != 1 || env.sessions.revoked[0] != u.ID {
		t.Error("expected sessions to be revoked after password change")
	}
	if _, err := env.svc.Login(ctx, "a@b.co", "brand-new-pass"); err != nil {
		t.Errorf("expected login with new password: %v", err)
	}
}

func TestSetUserStatus(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	admin := &auth.Principal{UserID: uuid.New(), Role: auth.RoleSuperAdmin}
	u, _ := env.svc.CreateUser(ctx, CreateUserInput{Name: "Sam", Email: "sam@b.co", Password: "longenough", Role: auth.RoleSalesExecutive})

	got, err := env.svc.SetUserStatus(ctx, admin, u.ID, StatusSuspended)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusSuspended {
		t.Errorf("expected suspended, got %s", got.Status)
	}
	se, _ := env.svc.GetSalesExecutiveByUser(ctx, u.ID)
	if se.Active {
		t.Error("expected sales executive profile to be deactivated")
	}
	if len(env.sessions.revoked) != 1 {
		t.Error("expected sessions revoked on suspension")
	}

	if _, err := env.svc.SetUserStatus(ctx, admin, u.ID, StatusActive); err != nil {
		t.Fatal(err)
	}
	se, _ = env.svc.GetSalesExecutiveByUser(ctx, u.ID)
	if !se.Active {
		t.Error("expected profile reactivated")
	}
}

func TestSetUserStatus_Rules(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	admin := &auth.Principal{UserID: uuid.New(), Role: auth.RoleSuperAdmin}

	if _, err := env.svc.SetUserStatus(ctx, admin, admin.UserID, StatusSuspended); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for self-suspension, got %v", err)
	}
	if _, err := env.svc.SetUserStatus(ctx, admin, uuid.New(), "deleted"); err == nil {
		t.Error("expected error for invalid status")
	}
	if _, err := env.svc.SetUserStatus(ctx, admin, uuid.New(), StatusSuspended); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetCommissionRate(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	u, _ := env.svc.CreateUser(ctx, CreateUserInput{Name: "Sam", Email: "sam@b.co", Password: "longenough", Role: auth.RoleSalesExecutive})
	se, _ := env.svc.GetSalesExecutiveByUser(ctx, u.ID)

	got, err := env.svc.SetCommissionRate(ctx, se.ID, decimal.RequireFromString("12.345"))
	if err != nil {
		t.Fatal(err)
	}
	if !got.CommissionRate.Equal(decimal.RequireFromString("12.35")) {
		t.Errorf("expected rate rounded to 12.35, got %s", got.CommissionRate)
	}
	if _, err := env.svc.SetCommissionRate(ctx, se.ID, decimal.NewFromInt(-1)); err == nil {
		t.Error("expected error for negative rate")
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	u, _ := env.svc.CreateUser(ctx, CreateUserInput{Name: "Sam", Email: "sam@b.co", Password: "longenough", Role: auth.RoleSalesExecutive})

	prof, err := env.svc.Me(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if prof.SalesExecutive == nil {
		t.Error("expected sales executive profile")
	}
	if len(prof.Permissions) != len(auth.Permissions(auth.RoleSalesExecutive)) {
		t.Errorf("unexpected permissions %v", prof.Permissions)
	}
}

func TestListUsers_Filters(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.svc.RegisterPatient(ctx, RegisterInput{Name: "P1", Email: "p1@b.co", Password: "longenough"})
	env.svc.CreateUser(ctx, CreateUserInput{Name: "S1", Email: "s1@b.co", Password: "longenough", Role: auth.RoleSalesExecutive})

	users, total, err := env.svc.ListUsers(ctx, UserFilter{Role: auth.RolePatient}, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || users[0].Name != "P1" {
		t.Errorf("expected one patient, got %d", total)
	}
	if _, _, err := env.svc.ListUsers(ctx, UserFilter{Status: "gone"}, 20, 0); err == nil {
		t.Error("expected error for invalid status filter")
	}
}
