package dashboard

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labbook/labbook/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/dashboard")
	g.GET("", h.Mine, auth.RequirePermission(auth.PermDashboardAdmin, auth.PermDashboardLab,
		auth.PermDashboardSales, auth.PermDashboardPatient))
	g.GET("/admin", h.Admin, auth.RequirePermission(auth.PermDashboardAdmin))
	g.GET("/lab", h.Lab, auth.RequirePermission(auth.PermDashboardLab))
	g.GET("/sales", h.Sales, auth.RequirePermission(auth.PermDashboardSales))
	g.GET("/patient", h.Patient, auth.RequirePermission(auth.PermDashboardPatient))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "dashboard not available for this account")
	case errors.Is(err, ErrNoScope):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "could not load dashboard")
	}
}

func principal(c echo.Context) *auth.Principal {
	return auth.PrincipalFromContext(c.Request().Context())
}

func optionalUUID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func (h *Handler) Mine(c echo.Context) error {
	out, err := h.svc.ForPrincipal(c.Request().Context(), principal(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Admin(c echo.Context) error {
	out, err := h.svc.AdminStats(c.Request().Context(), principal(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Lab(c echo.Context) error {
	labID, err := optionalUUID(c, "lab_id")
	if err != nil {
		return err
	}
	out, err := h.svc.LabStats(c.Request().Context(), principal(c), labID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Sales(c echo.Context) error {
	execID, err := optionalUUID(c, "sales_exec_id")
	if err != nil {
		return err
	}
	out, err := h.svc.SalesStats(c.Request().Context(), principal(c), execID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Patient(c echo.Context) error {
	out, err := h.svc.PatientStats(c.Request().Context(), principal(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// fail logs unexpected query errors before mapping them.
func (h *Handler) fail(c echo.Context, err error) error {
	if !errors.Is(err, ErrForbidden) && !errors.Is(err, ErrNoScope) {
		h.svc.logger.Error().Err(err).Str("path", c.Path()).Msg("dashboard query failed")
	}
	return httpError(err)
}
