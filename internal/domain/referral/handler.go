package referral

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/pkg/pagination"
)

type Handler struct {
	codes       *Service
	commissions *CommissionService
}

func NewHandler(codes *Service, commissions *CommissionService) *Handler {
	return &Handler{codes: codes, commissions: commissions}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	check := api.Group("", auth.RequirePermission(auth.PermReferralCheck))
	check.GET("/referral-codes/validate", h.ValidateCode)

	codes := api.Group("", auth.RequirePermission(auth.PermReferralManage, auth.PermReferralAll))
	codes.POST("/referral-codes", h.CreateCode)
	codes.GET("/referral-codes", h.ListCodes)
	codes.GET("/referral-codes/:id", h.GetCode)
	codes.POST("/referral-codes/:id/deactivate", h.DeactivateCode)

	read := api.Group("", auth.RequirePermission(auth.PermCommissionOwn, auth.PermCommissionAll))
	read.GET("/commissions", h.ListCommissions)
	read.GET("/commissions/summary", h.Summary)

	payout := api.Group("", auth.RequirePermission(auth.PermCommissionAll))
	payout.POST("/commissions/payout", h.MarkPaid)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrCodeTaken), errors.Is(err, ErrAlreadyPaid):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrCodeInactive), errors.Is(err, ErrCodeExpired),
		errors.Is(err, ErrCodeExhausted), errors.Is(err, ErrExecutiveInactive):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

func principal(c echo.Context) *auth.Principal {
	return auth.PrincipalFromContext(c.Request().Context())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
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

// -- Referral codes --

func (h *Handler) CreateCode(c echo.Context) error {
	var in CreateCodeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	code, err := h.codes.CreateCode(c.Request().Context(), principal(c), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, code)
}

func (h *Handler) GetCode(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	code, err := h.codes.GetCode(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, code)
}

func (h *Handler) ListCodes(c echo.Context) error {
	pg := pagination.FromContext(c)
	execID, err := optionalUUID(c, "sales_exec_id")
	if err != nil {
		return err
	}
	f := CodeFilter{SalesExecID: execID, ActiveOnly: c.QueryParam("active") == "true"}
	codes, total, err := h.codes.ListCodes(c.Request().Context(), principal(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(codes, total, pg))
}

func (h *Handler) DeactivateCode(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	code, err := h.codes.DeactivateCode(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, code)
}

func (h *Handler) ValidateCode(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}
	v, err := h.codes.ValidateCode(c.Request().Context(), code)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

// -- Commissions --

func (h *Handler) ListCommissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	execID, err := optionalUUID(c, "sales_exec_id")
	if err != nil {
		return err
	}
	f := CommissionFilter{SalesExecID: execID, Status: c.QueryParam("status")}
	if f.From, err = optionalDate(c, "from"); err != nil {
		return err
	}
	if f.To, err = optionalDate(c, "to"); err != nil {
		return err
	}
	if f.To != nil {
		// "to" is inclusive of the whole day.
		end := f.To.AddDate(0, 0, 1)
		f.To = &end
	}
	list, total, err := h.commissions.ListCommissions(c.Request().Context(), principal(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(list, total, pg))
}

func (h *Handler) Summary(c echo.Context) error {
	execID, err := optionalUUID(c, "sales_exec_id")
	if err != nil {
		return err
	}
	sum, err := h.commissions.Summary(c.Request().Context(), principal(c), execID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) MarkPaid(c echo.Context) error {
	var req PayoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.commissions.MarkPaid(c.Request().Context(), req.IDs, req.PayoutRef)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"updated":    n,
		"payout_ref": req.PayoutRef,
	})
}

func optionalDate(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+", expected YYYY-MM-DD")
	}
	return &t, nil
}
