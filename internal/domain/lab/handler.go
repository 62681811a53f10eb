package lab

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/internal/platform/blobstore"
	"github.com/labbook/labbook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Catalog browsing is public so patients can compare labs before signing up.
	api.GET("/labs", h.ListLabs)
	api.GET("/labs/:id", h.GetLab)
	api.GET("/labs/:id/logo", h.GetLogo)
	api.GET("/labs/:id/services", h.ListLabServices)
	api.GET("/services", h.ListServices)
	api.GET("/services/:id", h.GetService)

	admin := api.Group("", auth.RequirePermission(auth.PermLabManage))
	admin.POST("/labs", h.CreateLab)
	admin.PATCH("/labs/:id/status", h.SetLabStatus)

	owner := api.Group("", auth.RequirePermission(auth.PermLabUpdateOwn))
	owner.PUT("/labs/:id", h.UpdateLab)
	owner.POST("/labs/:id/logo", h.UploadLogo)

	catalog := api.Group("", auth.RequirePermission(auth.PermServiceManage))
	catalog.POST("/labs/:id/services", h.CreateService)
	catalog.PUT("/services/:id", h.UpdateService)
	catalog.DELETE("/services/:id", h.DeleteService)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, blobstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "not allowed for this lab")
	case errors.Is(err, ErrSlugTaken), errors.Is(err, ErrCodeTaken):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType), errors.Is(err, blobstore.ErrEmptyFile):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
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

// -- Labs --

func (h *Handler) CreateLab(c echo.Context) error {
	var l Lab
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateLab(c.Request().Context(), &l); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) GetLab(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	l, err := h.svc.GetLab(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) ListLabs(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := LabFilter{
		Status: c.QueryParam("status"),
		City:   c.QueryParam("city"),
		Search: c.QueryParam("q"),
	}
	labs, total, err := h.svc.ListLabs(c.Request().Context(), principal(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(labs, total, pg))
}

func (h *Handler) UpdateLab(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in LabUpdate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	l, err := h.svc.UpdateLab(c.Request().Context(), principal(c), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetLabStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	l, err := h.svc.SetLabStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) UploadLogo(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	l, err := h.svc.UploadLogo(c.Request().Context(), principal(c), id, fh.Header.Get(echo.HeaderContentType), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) GetLogo(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rc, obj, err := h.svc.Logo(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()
	c.Response().Header().Set("Cache-Control", "public, max-age=3600")
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}

// -- Catalog --

func (h *Handler) CreateService(c echo.Context) error {
	labID, err := parseID(c)
	if err != nil {
		return err
	}
	var svc LabService
	if err := c.Bind(&svc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateService(c.Request().Context(), principal(c), labID, &svc); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, svc)
}

func (h *Handler) GetService(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	svc, err := h.svc.GetService(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, svc)
}

func (h *Handler) ListLabServices(c echo.Context) error {
	labID, err := parseID(c)
	if err != nil {
		return err
	}
	if _, err := h.svc.GetLab(c.Request().Context(), principal(c), labID); err != nil {
		return httpError(err)
	}
	return h.listServices(c, &labID)
}

func (h *Handler) ListServices(c echo.Context) error {
	var labID *uuid.UUID
	if v := c.QueryParam("lab_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid lab_id")
		}
		labID = &id
	}
	return h.listServices(c, labID)
}

func (h *Handler) listServices(c echo.Context, labID *uuid.UUID) error {
	pg := pagination.FromContext(c)
	f := ServiceFilter{
		LabID:    labID,
		Category: c.QueryParam("category"),
		Search:   c.QueryParam("q"),
	}
	services, total, err := h.svc.ListServices(c.Request().Context(), principal(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(services, total, pg))
}

func (h *Handler) UpdateService(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ServiceUpdate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	svc, err := h.svc.UpdateService(c.Request().Context(), principal(c), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, svc)
}

func (h *Handler) DeleteService(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteService(c.Request().Context(), principal(c), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
