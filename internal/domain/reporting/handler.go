package reporting

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinica/clinic/internal/platform/auth"
	"github.com/clinica/clinic/pkg/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleAdmin, auth.RoleSupervisor))
	g.GET("/financial", h.Financial)
	g.GET("/daily-sales", h.DailySales)
	g.GET("/insurance", h.Insurance)
	g.GET("/demographics", h.Demographics)
}

func (h *Handler) period(c echo.Context) (Period, error) {
	p, err := h.svc.ParsePeriod(c.QueryParam("from"), c.QueryParam("to"))
	if err != nil {
		return Period{}, apperr.ToHTTP(err)
	}
	return p, nil
}

func (h *Handler) Financial(c echo.Context) error {
	p, err := h.period(c)
	if err != nil {
		return err
	}
	r, err := h.svc.FinancialSummary(c.Request().Context(), p)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DailySales(c echo.Context) error {
	p, err := h.period(c)
	if err != nil {
		return err
	}
	r, err := h.svc.DailySales(c.Request().Context(), p)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Insurance(c echo.Context) error {
	p, err := h.period(c)
	if err != nil {
		return err
	}
	r, err := h.svc.InsuranceBreakdown(c.Request().Context(), p)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Demographics(c echo.Context) error {
	r, err := h.svc.Demographics(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}
