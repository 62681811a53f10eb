package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labbook/labbook/internal/platform/auth"
)

func request(target string, p *auth.Principal) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
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

func TestHandler_Mine(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	labID := uuid.New()

	rec := httptest.NewRecorder()
	if err := h.Mine(e.NewContext(request("/api/v1/dashboard", partnerOf(labID)), rec)); err != nil {
		t.Fatal(err)
	}
	var got LabStats
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.LabID != labID || got.TotalBookings != 8 {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Lab(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	if code := httpCode(t, h.Lab(e.NewContext(request("/?lab_id=bad", admin), httptest.NewRecorder()))); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	if code := httpCode(t, h.Lab(e.NewContext(request("/", admin), httptest.NewRecorder()))); code != http.StatusBadRequest {
		t.Errorf("expected 400 without lab_id, got %d", code)
	}

	other := uuid.New()
	if code := httpCode(t, h.Lab(e.NewContext(request("/?lab_id="+other.String(), partnerOf(uuid.New())), httptest.NewRecorder()))); code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", code)
	}

	rec := httptest.NewRecorder()
	if err := h.Lab(e.NewContext(request("/?lab_id="+other.String(), admin), rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_AdminError(t *testing.T) {
	svc, repo := newTestService()
	repo.failUsers = true
	h, e := NewHandler(svc), echo.New()

	if code := httpCode(t, h.Admin(e.NewContext(request("/", admin), httptest.NewRecorder()))); code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", code)
	}
}

func TestHandler_SalesAndPatient(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	execID := uuid.New()

	rec := httptest.NewRecorder()
	if err := h.Sales(e.NewContext(request("/", execOf(execID)), rec)); err != nil {
		t.Fatal(err)
	}
	var sales SalesStats
	json.Unmarshal(rec.Body.Bytes(), &sales)
	if sales.SalesExecID != execID || sales.ActiveCodes != 3 {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	patient := &auth.Principal{UserID: uuid.New(), Role: auth.RolePatient}
	rec = httptest.NewRecorder()
	if err := h.Patient(e.NewContext(request("/", patient), rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"/api/v1/dashboard":         false,
		"/api/v1/dashboard/admin":   false,
		"/api/v1/dashboard/lab":     false,
		"/api/v1/dashboard/sales":   false,
		"/api/v1/dashboard/patient": false,
	}
	for _, r := range e.Routes() {
		if _, ok := want[r.Path]; ok && r.Method == http.MethodGet {
			want[r.Path] = true
		}
	}
	for path, found := range want {
		if !found {
			t.Errorf("route GET %s not registered", path)
		}
	}
}
