package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestCan_Matrix(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RolePatient, PermBookingCreate, true},
		{RolePatient, PermBookingCancel, true},
		{RolePatient, PermBookingStatus, false},
		{RolePatient, PermReportUpload, false},
		{RolePatient, PermCommissionOwn, false},
		{RolePatient, PermUserManage, false},
		{RoleLabPartner, PermBookingStatus, true},
		{RoleLabPartner, PermReportUpload, true},
		{RoleLabPartner, PermServiceManage, true},
		{RoleLabPartner, PermBookingCreate, false},
		{RoleLabPartner, PermLabManage, false},
		{RoleLabPartner, PermCommissionOwn, false},
		{RoleSalesExecutive, PermReferralManage, true},
		{RoleSalesExecutive, PermCommissionOwn, true},
		{RoleSalesExecutive, PermCommissionAll, false},
		{RoleSalesExecutive, PermBookingReadLab, false},
		{RoleSalesExecutive, PermBookingCreate, false},
		{RoleSuperAdmin, PermCommissionAll, true},
		{RoleSuperAdmin, PermUserManage, true},
		{RoleSuperAdmin, PermBookingRefund, true},
		{Role("intruder"), PermLabRead, false},
	}
	for _, tt := range tests {
		if got := Can(tt.role, tt.perm); got != tt.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RolePatient, RoleLabPartner, RoleSalesExecutive, RoleSuperAdmin} {
		if !r.Valid() {
			t.Errorf("expected %s to be valid", r)
		}
	}
	if Role("admin").Valid() {
		t.Error("expected unknown role to be invalid")
	}
}

func TestPermissions_ListsMatrixRow(t *testing.T) {
	perms := Permissions(RoleSalesExecutive)
	if len(perms) != len(matrix[RoleSalesExecutive]) {
		t.Errorf("expected %d permissions, got %d", len(matrix[RoleSalesExecutive]), len(perms))
	}
}

func TestPermissions_SuperAdminGetsAll(t *testing.T) {
	if got := len(Permissions(RoleSuperAdmin)); got != len(allPermissions) {
		t.Errorf("expected %d permissions, got %d", len(allPermissions), got)
	}
	for _, perm := range allPermissions {
		if !Can(RoleSuperAdmin, perm) {
			t.Errorf("super admin lacks %s", perm)
		}
	}
}

func serveWith(t *testing.T, p *Principal, mw echo.MiddlewareFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if p != nil {
		req = req.WithContext(WithPrincipal(context.Background(), p))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })(c)
	return rec, err
}

func httpCode(err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return 0
}

func TestRequirePermission(t *testing.T) {
	patient := &Principal{UserID: uuid.New(), Role: RolePatient}
	admin := &Principal{UserID: uuid.New(), Role: RoleSuperAdmin}

	rec, err := serveWith(t, patient, RequirePermission(PermBookingCreate))
	if err != nil || rec.Code != http.StatusOK {
		t.Errorf("expected patient to pass, got %v / %d", err, rec.Code)
	}

	_, err = serveWith(t, patient, RequirePermission(PermBookingStatus))
	if httpCode(err) != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}

	_, err = serveWith(t, nil, RequirePermission(PermLabRead))
	if httpCode(err) != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}

	if _, err := serveWith(t, admin, RequirePermission(PermCommissionAll)); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}

	// any-of semantics
	if _, err := serveWith(t, patient, RequirePermission(PermBookingReadLab, PermBookingReadOwn)); err != nil {
		t.Errorf("expected any-of permission to pass, got %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	exec := &Principal{UserID: uuid.New(), Role: RoleSalesExecutive}
	admin := &Principal{UserID: uuid.New(), Role: RoleSuperAdmin}

	if _, err := serveWith(t, exec, RequireRole(RoleSalesExecutive)); err != nil {
		t.Errorf("expected pass, got %v", err)
	}
	if _, err := serveWith(t, exec, RequireRole(RoleLabPartner)); httpCode(err) != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
	if _, err := serveWith(t, admin, RequireRole(RoleLabPartner)); err != nil {
		t.Errorf("expected super admin bypass, got %v", err)
	}
	if _, err := serveWith(t, nil, RequireAuth()); httpCode(err) != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestPrincipal_OwnsLab(t *testing.T) {
	lab := uuid.New()
	p := &Principal{Role: RoleLabPartner, LabID: &lab}
	if !p.OwnsLab(lab) {
		t.Error("expected partner to own lab")
	}
	if p.OwnsLab(uuid.New()) {
		t.Error("expected partner not to own another lab")
	}
	admin := &Principal{Role: RoleSuperAdmin}
	if admin.OwnsLab(lab) {
		t.Error("OwnsLab is for partners only")
	}
	if !admin.IsAdmin() {
		t.Error("expected IsAdmin")
	}
}
