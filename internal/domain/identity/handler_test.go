package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labbook/labbook/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc := newTestService()
	h := NewHandler(svc, false)
	e := echo.New()
	return h, e
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func withPrincipal(req *http.Request, p *auth.Principal) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), p))
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	return he.Code
}

func TestHandler_Register(t *testing.T) {
	h, e := newTestHandler()

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/auth/register",
		`{"name":"Asha","email":"asha@example.com","password":"longenough"}`), rec)

	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("password hash must not be serialized")
	}
}

func TestHandler_Register_Duplicate(t *testing.T) {
	h, e := newTestHandler()
	body := `{"name":"Asha","email":"asha@example.com","password":"longenough"}`
	h.Register(e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder()))

	err := h.Register(e.NewContext(jsonRequest(http.MethodPost, "/", body), httptest.NewRecorder()))
	if httpCode(t, err) != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_Login_SetsCookie(t *testing.T) {
	h, e := newTestHandler()
	h.svc.RegisterPatient(context.Background(), RegisterInput{Name: "A", Email: "a@b.co", Password: "longenough"})

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/auth/login", `{"email":"a@b.co","password":"longenough"}`), rec)
	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), auth.SessionCookie+"=") {
		t.Error("expected session cookie")
	}
	var res LoginResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Token == "" {
		t.Error("expected token in body")
	}
}

func TestHandler_Login_BadCredentials(t *testing.T) {
	h, e := newTestHandler()

	err := h.Login(e.NewContext(jsonRequest(http.MethodPost, "/", `{"email":"a@b.co","password":"nope-nope"}`), httptest.NewRecorder()))
	if httpCode(t, err) != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
	err = h.Login(e.NewContext(jsonRequest(http.MethodPost, "/", `{"email":""}`), httptest.NewRecorder()))
	if httpCode(t, err) != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Me(t *testing.T) {
	h, e := newTestHandler()
	u, _ := h.svc.RegisterPatient(context.Background(), RegisterInput{Name: "A", Email: "a@b.co", Password: "longenough"})

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), &auth.Principal{UserID: u.ID, Role: auth.RolePatient})
	rec := httptest.NewRecorder()
	if err := h.Me(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "booking:create") {
		t.Errorf("expected permissions in profile, got %s", rec.Body.String())
	}
}

func TestHandler_SetUserStatus(t *testing.T) {
	h, e := newTestHandler()
	u, _ := h.svc.RegisterPatient(context.Background(), RegisterInput{Name: "A", Email: "a@b.co", Password: "longenough"})
	admin := &auth.Principal{UserID: uuid.New(), Role: auth.RoleSuperAdmin}

	req := withPrincipal(jsonRequest(http.MethodPatch, "/", `{"status":"suspended"}`), admin)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(u.ID.String())

	if err := h.SetUserStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got User
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusSuspended {
		t.Errorf("expected suspended, got %s", got.Status)
	}
}

func TestHandler_GetUser_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if httpCode(t, h.GetUser(c)) != http.StatusNotFound {
		t.Error("expected 404")
	}
}

func TestHandler_ListUsers(t *testing.T) {
	h, e := newTestHandler()
	h.svc.RegisterPatient(context.Background(), RegisterInput{Name: "A", Email: "a@b.co", Password: "longenough"})

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/users?role=patient", nil), rec)
	if err := h.ListUsers(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected total 1, got %d", resp.Total)
	}
}

func TestHandler_Routes(t *testing.T) {
	h, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST /api/v1/auth/login":        false,
		"GET /api/v1/auth/me":            false,
		"POST /api/v1/users":             false,
		"PATCH /api/v1/users/:id/status": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("route %s not registered", k)
		}
	}
}

func TestHTTPError_Mapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: name is required", ErrValidation), http.StatusBadRequest},
		{ErrEmailTaken, http.StatusConflict},
		{fmt.Errorf("issue session: %w", errors.New("key too short")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		he := httpError(tt.err).(*echo.HTTPError)
		if he.Code != tt.want {
			t.Errorf("httpError(%v) = %d, want %d", tt.err, he.Code, tt.want)
		}
		if he.Code == http.StatusInternalServerError && he.Message != "internal server error" {
			t.Errorf("internal error text leaked: %v", he.Message)
		}
	}
}
