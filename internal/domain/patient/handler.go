package patient

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	g := api.Group("", auth.RequireRole(auth.RoleReception, auth.RoleBilling))
	g.POST("/patients", h.CreatePatient)
	g.GET("/patients", h.SearchPatients)
	g.GET("/patients/:id", h.GetPatient)
	g.PUT("/patients/:id", h.UpdatePatient)
}

type patientRequest struct {
	DocumentNumber    string     `json:"document_number" validate:"required,max=30"`
	FirstName         string     `json:"first_name" validate:"required,max=100"`
	LastName          string     `json:"last_name" validate:"required,max=100"`
	Gender            string     `json:"gender" validate:"omitempty,oneof=male female other unknown"`
	BirthDate         string     `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Phone             *string    `json:"phone"`
	Email             *string    `json:"email" validate:"omitempty,email"`
	Address           *string    `json:"address"`
	InsurancePolicyID *uuid.UUID `json:"insurance_policy_id"`
	Active            *bool      `json:"active"`
}

func (h *Handler) bind(c echo.Context) (*Patient, *bool, error) {
	var req patientRequest
	if err := c.Bind(&req); err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return nil, nil, apperr.ToHTTP(err)
	}
	p := &Patient{
		DocumentNumber:    req.DocumentNumber,
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		Gender:            req.Gender,
		Phone:             req.Phone,
		Email:             req.Email,
		Address:           req.Address,
		InsurancePolicyID: req.InsurancePolicyID,
	}
	if req.BirthDate != "" {
		bd, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid birth_date")
		}
		p.BirthDate = &bd
	}
	return p, req.Active, nil
}

func (h *Handler) CreatePatient(c echo.Context) error {
	p, _, err := h.bind(c)
	if err != nil {
		return err
	}
	if err := h.svc.CreatePatient(c.Request().Context(), p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	current, err := h.svc.GetPatient(ctx, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	p, active, err := h.bind(c)
	if err != nil {
		return err
	}
	p.ID = id
	p.Active = current.Active
	if active != nil {
		p.Active = *active
	}
	if err := h.svc.UpdatePatient(ctx, p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := SearchParams{
		Name:           c.QueryParam("name"),
		DocumentNumber: c.QueryParam("document"),
	}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
		params.Active = &active
	}
	items, total, err := h.svc.SearchPatients(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
