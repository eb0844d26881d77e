package catalog

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	readGroup := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleReception, auth.RoleSupervisor))
	readGroup.GET("/services", h.SearchServices)
	readGroup.GET("/services/:id", h.GetService)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/services", h.CreateService)
	writeGroup.PUT("/services/:id", h.UpdateService)
}

type serviceRequest struct {
	Code         string          `json:"code" validate:"required,max=40"`
	Name         string          `json:"name" validate:"required,max=200"`
	Category     string          `json:"category" validate:"required,max=60"`
	BasePrice    decimal.Decimal `json:"base_price"`
	DynamicPrice bool            `json:"dynamic_price"`
	Active       *bool           `json:"active"`
}

func (h *Handler) bind(c echo.Context) (*MedicalService, error) {
	var req serviceRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return nil, apperr.ToHTTP(err)
	}
	ms := &MedicalService{
		Code:         req.Code,
		Name:         req.Name,
		Category:     req.Category,
		BasePrice:    req.BasePrice,
		DynamicPrice: req.DynamicPrice,
		Active:       true,
	}
	if req.Active != nil {
		ms.Active = *req.Active
	}
	return ms, nil
}

func (h *Handler) CreateService(c echo.Context) error {
	ms, err := h.bind(c)
	if err != nil {
		return err
	}
	if err := h.svc.CreateService(c.Request().Context(), ms); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, ms)
}

func (h *Handler) GetService(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ms, err := h.svc.GetService(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, ms)
}

func (h *Handler) UpdateService(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ms, err := h.bind(c)
	if err != nil {
		return err
	}
	ms.ID = id
	if err := h.svc.UpdateService(c.Request().Context(), ms); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, ms)
}

func (h *Handler) SearchServices(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := SearchParams{Query: c.QueryParam("q"), Category: c.QueryParam("category")}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
		params.Active = &active
	}
	items, total, err := h.svc.SearchServices(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
