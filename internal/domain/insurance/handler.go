package insurance

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
	readGroup.GET("/insurance-policies", h.ListPolicies)
	readGroup.GET("/insurance-policies/:id", h.GetPolicy)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/insurance-policies", h.CreatePolicy)
	writeGroup.PUT("/insurance-policies/:id", h.UpdatePolicy)
	writeGroup.DELETE("/insurance-policies/:id", h.DeletePolicy)
}

type ruleRequest struct {
	ServiceID *uuid.UUID      `json:"service_id"`
	Category  *string         `json:"category"`
	Percent   decimal.Decimal `json:"percent"`
}

type policyRequest struct {
	Code           string           `json:"code" validate:"required,max=40"`
	Name           string           `json:"name" validate:"required,max=200"`
	DefaultPercent *decimal.Decimal `json:"default_percent"`
	Active         *bool            `json:"active"`
	Rules          []ruleRequest    `json:"rules" validate:"dive"`
}

func (r *policyRequest) toPolicy() *Policy {
	p := &Policy{Code: r.Code, Name: r.Name, DefaultPercent: r.DefaultPercent, Active: true}
	if r.Active != nil {
		p.Active = *r.Active
	}
	p.Rules = make([]CoverageRule, 0, len(r.Rules))
	for _, rr := range r.Rules {
		p.Rules = append(p.Rules, CoverageRule{ServiceID: rr.ServiceID, Category: rr.Category, Percent: rr.Percent})
	}
	return p
}

func (h *Handler) bind(c echo.Context) (*Policy, error) {
	var req policyRequest
	if err := c.Bind(&req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return nil, apperr.ToHTTP(err)
	}
	return req.toPolicy(), nil
}

func (h *Handler) CreatePolicy(c echo.Context) error {
	p, err := h.bind(c)
	if err != nil {
		return err
	}
	if err := h.svc.CreatePolicy(c.Request().Context(), p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPolicy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPolicy(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPolicies(c echo.Context) error {
	pg := pagination.FromContext(c)
	activeOnly, _ := strconv.ParseBool(c.QueryParam("active"))
	items, total, err := h.svc.ListPolicies(c.Request().Context(), activeOnly, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePolicy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.bind(c)
	if err != nil {
		return err
	}
	p.ID = id
	if err := h.svc.UpdatePolicy(c.Request().Context(), p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePolicy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeletePolicy(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
