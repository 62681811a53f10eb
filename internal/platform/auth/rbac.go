package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Role is the single role attached to a user account.
type Role string

const (
	RolePatient        Role = "patient"
	RoleLabPartner     Role = "lab_partner"
	RoleSalesExecutive Role = "sales_executive"
	RoleSuperAdmin     Role = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleLabPartner, RoleSalesExecutive, RoleSuperAdmin:
		return true
	}
	return false
}

// Permission names an action a role may perform. The ":own" and ":lab"
// suffixes mean the handler still has to check ownership of the target.
type Permission string

const (
	PermLabRead          Permission = "lab:read"
	PermLabUpdateOwn     Permission = "lab:update:own"
	PermLabManage        Permission = "lab:manage"
	PermServiceRead      Permission = "service:read"
	PermServiceManage    Permission = "service:manage:own"
	PermBookingCreate    Permission = "booking:create"
	PermBookingReadOwn   Permission = "booking:read:own"
	PermBookingCancel    Permission = "booking:cancel:own"
	PermBookingReadLab   Permission = "booking:read:lab"
	PermBookingStatus    Permission = "booking:status:lab"
	PermBookingReadAll   Permission = "booking:read:all"
	PermBookingRefund    Permission = "booking:refund"
	PermPaymentCreate    Permission = "payment:create"
	PermReportUpload     Permission = "report:upload"
	PermReportReadOwn    Permission = "report:read:own"
	PermReportReadLab    Permission = "report:read:lab"
	PermReferralManage   Permission = "referral:manage:own"
	PermReferralAll      Permission = "referral:manage:all"
	PermReferralCheck    Permission = "referral:validate"
	PermCommissionOwn    Permission = "commission:read:own"
	PermCommissionAll    Permission = "commission:manage"
	PermUserManage       Permission = "user:manage"
	PermDashboardAdmin   Permission = "dashboard:admin"
	PermDashboardLab     Permission = "dashboard:lab"
	PermDashboardSales   Permission = "dashboard:sales"
	PermDashboardPatient Permission = "dashboard:patient"
)

var allPermissions = []Permission{
	PermLabRead, PermLabUpdateOwn, PermLabManage, PermServiceRead, PermServiceManage,
	PermBookingCreate, PermBookingReadOwn, PermBookingCancel, PermBookingReadLab,
	PermBookingStatus, PermBookingReadAll, PermBookingRefund, PermPaymentCreate,
	PermReportUpload, PermReportReadOwn, PermReportReadLab, PermReferralManage,
	PermReferralAll, PermReferralCheck, PermCommissionOwn, PermCommissionAll,
	PermUserManage, PermDashboardAdmin, PermDashboardLab, PermDashboardSales,
	PermDashboardPatient,
}

// matrix is the role -> permission table. super_admin is handled in Can.
var matrix = map[Role]map[Permission]bool{
	RolePatient: {
		PermLabRead:          true,
		PermServiceRead:      true,
		PermBookingCreate:    true,
		PermBookingReadOwn:   true,
		PermBookingCancel:    true,
		PermPaymentCreate:    true,
		PermReportReadOwn:    true,
		PermReferralCheck:    true,
		PermDashboardPatient: true,
	},
	RoleLabPartner: {
		PermLabRead:        true,
		PermLabUpdateOwn:   true,
		PermServiceRead:    true,
		PermServiceManage:  true,
		PermBookingReadLab: true,
		PermBookingStatus:  true,
		PermReportUpload:   true,
		PermReportReadLab:  true,
		PermDashboardLab:   true,
	},
	RoleSalesExecutive: {
		PermLabRead:        true,
		PermServiceRead:    true,
		PermReferralManage: true,
		PermReferralCheck:  true,
		PermCommissionOwn:  true,
		PermDashboardSales: true,
	},
}

// Can reports whether role holds perm.
func Can(role Role, perm Permission) bool {
	if role == RoleSuperAdmin {
		return true
	}
	return matrix[role][perm]
}

// Permissions returns the permissions granted to role, for the /me endpoint.
func Permissions(role Role) []Permission {
	if role == RoleSuperAdmin {
		return append([]Permission(nil), allPermissions...)
	}
	var out []Permission
	for p, ok := range matrix[role] {
		if ok {
			out = append(out, p)
		}
	}
	return out
}

// RequirePermission returns middleware that lets the request through when
// the caller holds at least one of perms.
func RequirePermission(perms ...Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			for _, perm := range perms {
				if Can(p.Role, perm) {
					return next(c)
				}
			}
			names := make([]string, len(perms))
			for i, perm := range perms {
				names[i] = string(perm)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				"missing permission: "+strings.Join(names, " or "))
		}
	}
}

// RequireRole returns middleware that checks if the user has one of the
// specified roles. super_admin always passes.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if p.Role == RoleSuperAdmin {
				return next(c)
			}
			for _, r := range roles {
				if p.Role == r {
					return next(c)
				}
			}
			names := make([]string, len(roles))
			for i, r := range roles {
				names[i] = string(r)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				"required role: "+strings.Join(names, " or "))
		}
	}
}

// RequireAuth rejects requests without a session.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if PrincipalFromContext(c.Request().Context()) == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}
