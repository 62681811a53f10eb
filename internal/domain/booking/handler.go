package booking

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/internal/platform/blobstore"
	"github.com/labbook/labbook/internal/platform/payment"
	"github.com/labbook/labbook/pkg/pagination"
)

// WebhookSignatureHeader carries the gateway's HMAC of the webhook body.
const WebhookSignatureHeader = "X-Razorpay-Signature"

const reportURLExpiry = 15 * time.Minute

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// The gateway authenticates with the body signature, not a session.
	api.POST("/payments/webhook", h.Webhook)

	create := api.Group("", auth.RequirePermission(auth.PermBookingCreate))
	create.POST("/bookings", h.CreateBooking)

	read := api.Group("", auth.RequirePermission(auth.PermBookingReadOwn, auth.PermBookingReadLab, auth.PermBookingReadAll))
	read.GET("/bookings", h.ListBookings)
	read.GET("/bookings/:id", h.GetBooking)
	read.GET("/bookings/:id/history", h.History)

	status := api.Group("", auth.RequirePermission(auth.PermBookingStatus))
	status.PATCH("/bookings/:id/status", h.UpdateStatus)

	cancel := api.Group("", auth.RequirePermission(auth.PermBookingCancel, auth.PermBookingStatus))
	cancel.POST("/bookings/:id/cancel", h.CancelBooking)

	upload := api.Group("", auth.RequirePermission(auth.PermReportUpload))
	upload.POST("/bookings/:id/report", h.UploadReport)

	report := api.Group("", auth.RequirePermission(auth.PermReportReadOwn, auth.PermReportReadLab))
	report.GET("/bookings/:id/report", h.DownloadReport)
	report.GET("/bookings/:id/report/url", h.ReportURL)

	refund := api.Group("", auth.RequirePermission(auth.PermBookingRefund))
	refund.POST("/bookings/:id/refund", h.Refund)

	pay := api.Group("", auth.RequirePermission(auth.PermPaymentCreate))
	pay.POST("/bookings/:id/payments", h.InitiatePayment)
	pay.POST("/payments/confirm", h.ConfirmPayment)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoReport), errors.Is(err, blobstore.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "not allowed for this booking")
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStatusConflict),
		errors.Is(err, ErrAlreadyPaid), errors.Is(err, ErrNotPayable),
		errors.Is(err, ErrNotRefundable), errors.Is(err, ErrReportNotAllowed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPaymentRequired):
		return echo.NewHTTPError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrLabUnavailable), errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrInvalidReferral):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, payment.ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, payment.ErrGateway):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, ErrPresignUnsupported), errors.Is(err, ErrPaymentsDisabled):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
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

// -- Bookings --

func (h *Handler) CreateBooking(c echo.Context) error {
	var in CreateBookingInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.CreateBooking(c.Request().Context(), principal(c), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBooking(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBookings(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := BookingFilter{
		Status:        c.QueryParam("status"),
		PaymentStatus: c.QueryParam("payment_status"),
	}
	for name, dst := range map[string]**uuid.UUID{"patient_id": &f.PatientID, "lab_id": &f.LabID} {
		if v := c.QueryParam(name); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
			}
			*dst = &id
		}
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if v := c.QueryParam(name); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+", expected YYYY-MM-DD")
			}
			*dst = &t
		}
	}
	if f.To != nil {
		end := f.To.AddDate(0, 0, 1)
		f.To = &end
	}

	bookings, total, err := h.svc.ListBookings(c.Request().Context(), principal(c), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bookings, total, pg))
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req StatusUpdate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.UpdateStatus(c.Request().Context(), principal(c), id, req.Status, req.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelBooking(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	b, err := h.svc.CancelBooking(c.Request().Context(), principal(c), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) History(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	hist, err := h.svc.History(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hist)
}

func (h *Handler) Refund(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Refund(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// -- Reports --

func (h *Handler) UploadReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fh.Size > blobstore.MaxFileSize {
		return httpError(blobstore.ErrFileTooLarge)
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	b, err := h.svc.AttachReport(c.Request().Context(), principal(c), id, fh.Header.Get(echo.HeaderContentType), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DownloadReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rc, obj, err := h.svc.DownloadReport(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="report`+blobstore.ExtensionFor(obj.ContentType)+`"`)
	c.Response().Header().Set("Cache-Control", "private, no-store")
	return c.Stream(http.StatusOK, obj.ContentType, io.LimitReader(rc, blobstore.MaxFileSize))
}

func (h *Handler) ReportURL(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	url, err := h.svc.ReportURL(c.Request().Context(), principal(c), id, reportURLExpiry)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"url":        url,
		"expires_in": int(reportURLExpiry.Seconds()),
	})
}

// -- Payments --

func (h *Handler) InitiatePayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pay, err := h.svc.InitiatePayment(c.Request().Context(), principal(c), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, pay)
}

func (h *Handler) ConfirmPayment(c echo.Context) error {
	var in ConfirmPaymentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.ConfirmPayment(c.Request().Context(), principal(c), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Webhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read body")
	}
	if err := h.svc.HandleWebhook(c.Request().Context(), body, c.Request().Header.Get(WebhookSignatureHeader)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
