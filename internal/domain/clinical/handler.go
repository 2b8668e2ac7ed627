package clinical

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/icu/icu/internal/platform/apperr"
	"github.com/icu/icu/internal/platform/auth"
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

	api.GET("/patients/:id/vitals", h.ListVitals, read)
	api.POST("/patients/:id/vitals", h.RecordVitals, auth.Require(auth.ActionVitalsRecord))
	api.GET("/patients/:id/medications", h.ListMedications, read)
	api.POST("/patients/:id/medications", h.Prescribe, auth.Require(auth.ActionMedicationPrescribe))
	api.PATCH("/medications/:id/status", h.UpdateMedicationStatus, auth.Require(auth.ActionMedicationStatus))
	api.GET("/patients/:id/labs", h.ListLabs, read)
	api.POST("/patients/:id/labs", h.RecordLab, auth.Require(auth.ActionLabRecord))
	api.POST("/labs/:id/acknowledge", h.AcknowledgeLab, auth.Require(auth.ActionLabAcknowledge))
	api.GET("/lab-reference-ranges", h.ReferenceRanges, read)
	api.GET("/lab-catalog", h.Catalog, read)
	api.GET("/patients/:id/procedures", h.ListProcedures, read)
	api.POST("/patients/:id/procedures", h.RecordProcedure, auth.Require(auth.ActionProcedureRecord))
	api.GET("/patients/:id/notes", h.ListNotes, read)
	api.POST("/patients/:id/notes", h.WriteNote, auth.Require(auth.ActionNoteWrite))
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id", map[string]string{"id": "must be a uuid"})
	}
	return id, nil
}

// listFor serves a patient-scoped list, most recent first.
func listFor[T any](c echo.Context, fetch func(ctx context.Context, id uuid.UUID, limit, offset int) ([]*T, error)) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, err := fetch(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*T{}
	}
	return c.JSON(http.StatusOK, items)
}

// createFor binds a new entry and writes it. The response carries only the
// id; the row reaches list views through the change feed.
func createFor[T any](c echo.Context, write func(ctx context.Context, sess *auth.Session, id uuid.UUID, in *T) (*T, error), idOf func(*T) uuid.UUID) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	in := new(T)
	if err := c.Bind(in); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	ctx := c.Request().Context()
	out, err := write(ctx, auth.SessionFromContext(ctx), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, Accepted{ID: idOf(out)})
}

func (h *Handler) ListVitals(c echo.Context) error {
	return listFor(c, h.svc.ListVitals)
}

func (h *Handler) RecordVitals(c echo.Context) error {
	return createFor(c, h.svc.RecordVitals, func(v *Vitals) uuid.UUID { return v.ID })
}

func (h *Handler) ListMedications(c echo.Context) error {
	return listFor(c, h.svc.ListMedications)
}

func (h *Handler) Prescribe(c echo.Context) error {
	return createFor(c, h.svc.Prescribe, func(m *Medication) uuid.UUID { return m.ID })
}

type medicationStatusRequest struct {
	Status MedicationStatus `json:"status"`
}

func (h *Handler) UpdateMedicationStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req medicationStatusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body", nil)
	}
	m, err := h.svc.UpdateMedicationStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListLabs(c echo.Context) error {
	return listFor(c, h.svc.ListLabs)
}

func (h *Handler) RecordLab(c echo.Context) error {
	return createFor(c, h.svc.RecordLab, func(l *LabResult) uuid.UUID { return l.ID })
}

func (h *Handler) AcknowledgeLab(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	l, err := h.svc.AcknowledgeLab(ctx, auth.SessionFromContext(ctx), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) ReferenceRanges(c echo.Context) error {
	items, err := h.svc.ReferenceRanges(c.Request().Context())
	if err != nil {
		return err
	}
	if items == nil {
		items = []*ReferenceRange{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Catalog(c echo.Context) error {
	return c.JSON(http.StatusOK, LabCatalog)
}

func (h *Handler) ListProcedures(c echo.Context) error {
	return listFor(c, h.svc.ListProcedures)
}

func (h *Handler) RecordProcedure(c echo.Context) error {
	return createFor(c, h.svc.RecordProcedure, func(p *Procedure) uuid.UUID { return p.ID })
}

func (h *Handler) ListNotes(c echo.Context) error {
	return listFor(c, h.svc.ListNotes)
}

func (h *Handler) WriteNote(c echo.Context) error {
	return createFor(c, h.svc.WriteNote, func(n *ProgressNote) uuid.UUID { return n.ID })
}
