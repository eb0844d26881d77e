package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinica/clinic/internal/domain/catalog"
	"github.com/clinica/clinic/internal/domain/insurance"
	"github.com/clinica/clinic/internal/platform/auth"
	"github.com/clinica/clinic/pkg/apperr"
	"github.com/clinica/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("/invoices", auth.RequireRole(auth.RoleBilling, auth.RoleSupervisor))
	readGroup.GET("", h.SearchInvoices)
	readGroup.GET("/:id", h.GetInvoice)
	readGroup.GET("/:id/payments", h.ListPayments)
	readGroup.GET("/:id/history", h.StatusHistory)
	readGroup.GET("/:id/exonerations", h.ListExonerations)

	writeGroup := api.Group("/invoices", auth.RequireRole(auth.RoleBilling))
	writeGroup.POST("/coverage-preview", h.PreviewCoverage)
	writeGroup.POST("", h.CreateInvoice)
	writeGroup.POST("/:id/payments", h.RegisterPayment)
	writeGroup.POST("/:id/status", h.ChangeStatus)

	supervisorGroup := api.Group("/invoices", auth.RequireRole(auth.RoleSupervisor))
	supervisorGroup.POST("/:id/exoneration", h.Exonerate)
	supervisorGroup.POST("/:id/exoneration/reversal", h.ReverseExoneration)

	adminGroup := api.Group("/invoices", auth.RequireRole(auth.RoleAdmin))
	adminGroup.DELETE("/:id", h.DeleteInvoice)
}

// invoiceResponse adds the coverage breakdown to display, which an active
// exoneration suppresses.
type invoiceResponse struct {
	*Invoice
	Insurance *insurance.Calculation `json:"insurance,omitempty"`
}

func toResponse(inv *Invoice) invoiceResponse {
	return invoiceResponse{Invoice: inv, Insurance: inv.DisplayedInsurance()}
}

type previewRequest struct {
	PatientID uuid.UUID           `json:"patient_id" validate:"required"`
	Items     []catalog.LineInput `json:"items" validate:"required,min=1,dive"`
}

type statusRequest struct {
	Status string  `json:"status" validate:"required"`
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type exonerationRequest struct {
	Reason            string  `json:"reason" validate:"required,max=500"`
	AuthorizationCode *string `json:"authorization_code,omitempty" validate:"omitempty,max=60"`
	Notes             *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

type reversalRequest struct {
	Status string  `json:"status" validate:"required,oneof=PENDING PAID"`
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

func bindValid(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return apperr.ToHTTP(err)
	}
	return nil
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func currentUser(c echo.Context) string {
	return auth.UserNameFromContext(c.Request().Context())
}

func (h *Handler) PreviewCoverage(c echo.Context) error {
	var req previewRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	calc, err := h.svc.PreviewCoverage(c.Request().Context(), req.PatientID, req.Items)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, calc)
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req CreateInvoiceRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.CreateInvoice(c.Request().Context(), req, currentUser(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, toResponse(inv))
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, toResponse(inv))
}

func parseDate(v string, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+", expected YYYY-MM-DD")
	}
	return &t, nil
}

func (h *Handler) SearchInvoices(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := SearchParams{Number: c.QueryParam("number")}
	if v := c.QueryParam("status"); v != "" {
		st, err := ParseStatus(v)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		params.Status = st
	}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		params.PatientID = &pid
	}
	from, err := parseDate(c.QueryParam("from"), "from")
	if err != nil {
		return err
	}
	to, err := parseDate(c.QueryParam("to"), "to")
	if err != nil {
		return err
	}
	params.From = from
	if to != nil {
		end := to.AddDate(0, 0, 1)
		params.To = &end
	}

	items, total, err := h.svc.SearchInvoices(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RegisterPayment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req PaymentInput
	if err := bindValid(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.RegisterPayment(c.Request().Context(), id, req, currentUser(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, toResponse(inv))
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListPayments(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	to, err := ParseStatus(req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	inv, err := h.svc.ChangeStatus(c.Request().Context(), id, to, req.Reason, currentUser(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, toResponse(inv))
}

func (h *Handler) StatusHistory(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.StatusHistory(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Exonerate(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req exonerationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// A blank reason is reported as MISSING_REASON by the service.
	in := ExonerationInput{Reason: req.Reason, AuthorizationCode: req.AuthorizationCode, Notes: req.Notes}
	if req.Reason != "" {
		if err := c.Validate(&req); err != nil {
			return apperr.ToHTTP(err)
		}
	}
	inv, err := h.svc.Exonerate(c.Request().Context(), id, in, currentUser(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, toResponse(inv))
}

func (h *Handler) ReverseExoneration(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req reversalRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.ReverseExoneration(c.Request().Context(), id, Status(req.Status), req.Reason, currentUser(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, toResponse(inv))
}

func (h *Handler) ListExonerations(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListExonerations(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeleteInvoice(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteInvoice(c.Request().Context(), id, currentUser(c)); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
