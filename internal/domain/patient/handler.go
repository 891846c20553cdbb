package patient

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/registry/internal/platform/apperr"
	"github.com/clinic/registry/internal/platform/auth"
	"github.com/clinic/registry/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.POST("/patients", h.RegisterPatient)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)

	api.GET("/patients/:id/visits", h.ListVisits)
	api.POST("/patients/:id/visits", h.RegisterVisit)
	api.PUT("/patients/:id/visits/:visitId", h.UpdateVisit)
	api.DELETE("/patients/:id/visits/:visitId", h.DeleteVisit)

	adminOnly := auth.RequireRole(auth.RoleAdmin)
	api.PUT("/patients/:id/visit-count", h.SetVisitCount, adminOnly)
	api.POST("/patients/:id/visit-count/reconcile", h.ReconcileVisitCount, adminOnly)
	api.GET("/export", h.Export, adminOnly)
}

func (h *Handler) ListPatients(c echo.Context) error {
	list, err := h.svc.ListPatients(c.Request().Context(), ListParams{
		Page:   pagination.FromContext(c),
		Search: c.QueryParam("search"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var in CreatePatientInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	p, err := h.svc.RegisterPatient(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var in UpdatePatientInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	p, err := h.svc.UpdatePatient(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Patient deleted successfully"})
}

func (h *Handler) ListVisits(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	list, err := h.svc.ListVisits(c.Request().Context(), id, pagination.FromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) RegisterVisit(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var in CreateVisitInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	v, err := h.svc.RegisterVisit(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) UpdateVisit(c echo.Context) error {
	pid, vid, err := visitIDs(c)
	if err != nil {
		return err
	}
	var in UpdateVisitInput
	if err := c.Bind(&in); err != nil {
		return bindError(err)
	}
	v, err := h.svc.UpdateVisit(c.Request().Context(), pid, vid, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) DeleteVisit(c echo.Context) error {
	pid, vid, err := visitIDs(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteVisit(c.Request().Context(), pid, vid); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Visit deleted successfully"})
}

func (h *Handler) SetVisitCount(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var in SetVisitCountInput
	if err := c.Bind(&in); err != nil {
		if tooLarge(err) {
			return err
		}
		return apperr.Invalid("visitCount", msgVisitCount)
	}
	p, err := h.svc.SetVisitCount(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ReconcileVisitCount(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.ReconcileVisitCount(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Export(c echo.Context) error {
	doc, err := h.svc.Export(c.Request().Context())
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="clinic-export-`+doc.ExportDate.Format("2006-01-02")+`.json"`)
	return c.JSON(http.StatusOK, doc)
}

var errBadBody = echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")

// bindError keeps the body-limit rejection and reports anything else as a
// malformed body.
func bindError(err error) error {
	if tooLarge(err) {
		return err
	}
	return errBadBody
}

func tooLarge(err error) bool {
	var he *echo.HTTPError
	return errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge
}

// An id that is not a UUID cannot name an existing record.
func patientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.NotFound("Patient", c.Param("id"))
	}
	return id, nil
}

func visitIDs(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	pid, err := patientID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	vid, err := uuid.Parse(c.Param("visitId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, apperr.NotFound("Visit", c.Param("visitId"))
	}
	return pid, vid, nil
}
