package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestSessionManager_IssueAndParse(t *testing.T) {
	m := NewSessionManager(testSecret, time.Hour, nil)
	lab := uuid.New()
	subject := Subject{UserID: uuid.New(), Role: RoleLabPartner, LabID: &lab}

	token, exp, err := m.Issue(subject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Error("expected expiry in the future")
	}

	p, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.UserID != subject.UserID || p.Role != RoleLabPartner {
		t.Errorf("unexpected principal %+v", p)
	}
	if p.LabID == nil || *p.LabID != lab {
		t.Errorf("expected lab id %s, got %v", lab, p.LabID)
	}
	if p.SalesExecID != nil {
		t.Error("expected no sales exec id")
	}
}

func TestSessionManager_RejectsWrongSecret(t *testing.T) {
	m := NewSessionManager(testSecret, time.Hour, nil)
	token, _, _ := m.Issue(Subject{UserID: uuid.New(), Role: RolePatient})

	other := NewSessionManager([]byte("another-secret-another-secret-xx"), time.Hour, nil)
	if _, err := other.Parse(token); err == nil {
		t.Error("expected error for token signed with a different secret")
	}
}

func TestSessionManager_Expired(t *testing.T) {
	m := NewSessionManager(testSecret, time.Minute, nil)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, _ := m.Issue(Subject{UserID: uuid.New(), Role: RolePatient})

	m.now = time.Now
	if _, err := m.Parse(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestSessionManager_Revoke(t *testing.T) {
	store := newRevocationStore(time.Now)
	m := NewSessionManager(testSecret, time.Hour, store)
	token, _, _ := m.Issue(Subject{UserID: uuid.New(), Role: RolePatient})

	p, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m.Revoke(p)
	if _, err := m.Parse(token); err != ErrSessionRevoked {
		t.Errorf("expected ErrSessionRevoked, got %v", err)
	}
	if store.Count() != 1 {
		t.Errorf("expected 1 revoked token, got %d", store.Count())
	}
}

func TestSessionManager_RevokeUser(t *testing.T) {
	store := newRevocationStore(time.Now)
	m := NewSessionManager(testSecret, time.Hour, store)
	uid := uuid.New()
	m.now = func() time.Time { return time.Now().Add(-time.Minute) }
	token, _, _ := m.Issue(Subject{UserID: uid, Role: RolePatient})
	m.now = time.Now

	m.RevokeUser(uid)
	if _, err := m.Parse(token); err != ErrSessionRevoked {
		t.Errorf("expected ErrSessionRevoked, got %v", err)
	}

	// Other users are unaffected.
	other, _, _ := m.Issue(Subject{UserID: uuid.New(), Role: RolePatient})
	if _, err := m.Parse(other); err != nil {
		t.Errorf("expected other user's token to be valid, got %v", err)
	}
}

func TestRevocationStore_Cleanup(t *testing.T) {
	now := time.Now()
	store := newRevocationStore(func() time.Time { return now })
	store.RevokeForUser("old", "u1", now.Add(-time.Minute))
	store.RevokeForUser("fresh", "u1", now.Add(time.Hour))
	store.RevokeAllForUser("u2", now.Add(-2*time.Hour), now.Add(-time.Hour))

	store.cleanup()

	if store.Count() != 1 {
		t.Errorf("expected 1 entry after cleanup, got %d", store.Count())
	}
	if store.IsRevoked("x", "u2", now.Add(-3*time.Hour)) {
		t.Error("expected expired user cutoff to be dropped")
	}
	store.Close()
	store.Close()
}

func runSession(t *testing.T, m *SessionManager, setup func(r *http.Request)) (*Principal, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	setup(req)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got *Principal
	err := SessionMiddleware(m)(func(c echo.Context) error {
		got = PrincipalFromContext(c.Request().Context())
		return nil
	})(c)
	return got, err
}

func TestSessionMiddleware(t *testing.T) {
	m := NewSessionManager(testSecret, time.Hour, nil)
	uid := uuid.New()
	token, exp, _ := m.Issue(Subject{UserID: uid, Role: RolePatient})

	p, err := runSession(t, m, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) })
	if err != nil || p == nil || p.UserID != uid {
		t.Errorf("bearer: expected principal for %s, got %v / %v", uid, p, err)
	}

	p, err = runSession(t, m, func(r *http.Request) { r.AddCookie(SessionCookieFor(token, exp, false)) })
	if err != nil || p == nil || p.UserID != uid {
		t.Errorf("cookie: expected principal for %s, got %v / %v", uid, p, err)
	}

	p, err = runSession(t, m, func(r *http.Request) {})
	if err != nil || p != nil {
		t.Errorf("anonymous: expected no principal and no error, got %v / %v", p, err)
	}

	_, err = runSession(t, m, func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") })
	if httpCode(err) != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %v", err)
	}

	_, err = runSession(t, m, func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") })
	if httpCode(err) != http.StatusUnauthorized {
		t.Errorf("expected 401 for non-bearer auth, got %v", err)
	}
}
