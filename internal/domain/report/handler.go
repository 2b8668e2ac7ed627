package report

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
	"github.com/icu/icu/pkg/daterange"
)

// DefaultDays is the report window when no range is given.
const DefaultDays = 30

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports")
	g.GET("", h.Report, auth.Require(auth.ActionReportRead))
	g.GET("/comparison", h.Comparison, auth.Require(auth.ActionReportRead))
	g.GET("/readmissions", h.Readmissions, auth.Require(auth.ActionReportRead))
	g.GET("/export.xlsx", h.Export, auth.Require(auth.ActionReportExport))
}

func (h *Handler) dateRange(c echo.Context) (daterange.Range, error) {
	r, err := daterange.FromContext(c, daterange.LastDays(h.svc.now(), DefaultDays))
	if err != nil {
		return r, apperr.Validation("invalid date range", map[string]string{"range": err.Error()})
	}
	return r, nil
}

func (h *Handler) Report(c echo.Context) error {
	r, err := h.dateRange(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.Report(c.Request().Context(), r)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) Comparison(c echo.Context) error {
	r, err := h.dateRange(c)
	if err != nil {
		return err
	}
	cmp, err := h.svc.Comparison(c.Request().Context(), r)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cmp)
}

func (h *Handler) Readmissions(c echo.Context) error {
	r, err := h.dateRange(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Readmissions(c.Request().Context(), r)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) Export(c echo.Context) error {
	r, err := h.dateRange(c)
	if err != nil {
		return err
	}
	data, err := h.svc.Export(c.Request().Context(), r)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("ICU-Report-%s.xlsx", h.svc.now().Format(time.DateOnly))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", name))
	return c.Blob(http.StatusOK, XLSXContentType, data)
}
