package patient

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
	"github.com/icu/icu/pkg/daterange"
	"github.com/icu/icu/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := auth.Require(auth.ActionPatientRead)

	api.GET("/patients", h.List, read)
	api.POST("/patients", h.Admit, auth.Require(auth.ActionPatientAdmit))
	api.GET("/patients/:id", h.Get, read)
	api.PATCH("/patients/:id/condition", h.UpdateCondition, auth.Require(auth.ActionPatientCondition))
	api.PATCH("/patients/:id/discharge-status", h.UpdateDischargeStatus, auth.Require(auth.ActionPatientDischargeStatus))
	api.POST("/patients/:id/discharge", h.Discharge, auth.Require(auth.ActionPatientDischarge))
	api.GET("/patients/:id/episodes", h.Episodes, read)
	api.GET("/patients/:id/episode", h.CurrentEpisode, read)
	api.GET("/patients/:id/discharges", h.PatientDischarges, read)
	api.GET("/discharges", h.Discharges, read)
}

func patientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id", map[string]string{"id": "must be a uuid"})
	}
	return id, nil
}

func (h *Handler) Admit(c echo.Context) error {
	var in AdmitInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	p, err := h.svc.Admit(c.Request().Context(), auth.SessionFromContext(c.Request().Context()), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		Condition: Condition(c.QueryParam("condition")),
		Status:    DischargeStatus(c.QueryParam("status")),
		Search:    c.QueryParam("q"),
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type conditionRequest struct {
	Condition Condition `json:"condition"`
}

func (h *Handler) UpdateCondition(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var req conditionRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	p, err := h.svc.UpdateCondition(c.Request().Context(), id, req.Condition)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

type dischargeStatusRequest struct {
	DischargeStatus DischargeStatus `json:"discharge_status"`
}

func (h *Handler) UpdateDischargeStatus(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var req dischargeStatusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	p, err := h.svc.UpdateDischargeStatus(c.Request().Context(), id, req.DischargeStatus)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var in DischargeInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	in.PatientID = id
	res, err := h.svc.Discharge(c.Request().Context(), auth.SessionFromContext(c.Request().Context()), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Episodes(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	eps, err := h.svc.Episodes(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if eps == nil {
		eps = []*Episode{}
	}
	return c.JSON(http.StatusOK, eps)
}

func (h *Handler) CurrentEpisode(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	view, err := h.svc.CurrentEpisode(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) PatientDischarges(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.PatientDischarges(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Discharge{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Discharges(c echo.Context) error {
	r, err := daterange.FromContext(c, daterange.LastDays(time.Now(), 30))
	if err != nil {
		return apperr.Validation("invalid date range", map[string]string{"range": err.Error()})
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Discharges(c.Request().Context(), r.Start, r.End, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
