// Package reporting serves the clinic dashboard summary and a catalog of
// named SQL measures.
package reporting

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/registry/internal/platform/apperr"
	"github.com/clinic/registry/internal/platform/auth"
)

// MonthsInSummary is how many calendar months visitsByMonth covers,
// including the current one.
const MonthsInSummary = 6

// TopPatientsInSummary bounds the topPatients list.
const TopPatientsInSummary = 5

type TopPatient struct {
	ID         uuid.UUID `json:"id"`
	FullName   string    `json:"fullName"`
	VisitCount int       `json:"visitCount"`
}

type MonthCount struct {
	Month string `json:"month"` // YYYY-MM
	Count int    `json:"count"`
}

type Summary struct {
	TotalPatients        int          `json:"totalPatients"`
	TotalVisits          int          `json:"totalVisits"`
	AverageVisits        float64      `json:"averageVisits"`
	NewPatientsThisMonth int          `json:"newPatientsThisMonth"`
	DriftedPatients      int          `json:"driftedPatients"`
	TopPatients          []TopPatient `json:"topPatients"`
	VisitsByMonth        []MonthCount `json:"visitsByMonth"`
	GeneratedAt          time.Time    `json:"generatedAt"`
}

// Totals are the raw aggregates a Store reads in one snapshot.
type Totals struct {
	Patients        int
	Visits          int
	NewThisMonth    int
	DriftedPatients int
	Top             []TopPatient
	// VisitsByMonth is keyed by YYYY-MM; months without visits are absent.
	VisitsByMonth map[string]int
}

// Store reads report data.
type Store interface {
	Totals(ctx context.Context, monthStart, since time.Time, top int) (*Totals, error)
	Evaluate(ctx context.Context, sql string) ([]map[string]interface{}, error)
}

// MonthStart returns the first instant of t's month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Average is visits per patient rounded to one decimal, 0 without
// patients.
func Average(visits, patients int) float64 {
	if patients <= 0 {
		return 0
	}
	return math.Round(float64(visits)/float64(patients)*10) / 10
}

// Months lists the n months ending with now's month, oldest first, with
// counts filled from byMonth.
func Months(now time.Time, n int, byMonth map[string]int) []MonthCount {
	start := MonthStart(now).AddDate(0, -(n - 1), 0)
	out := make([]MonthCount, 0, n)
	for i := 0; i < n; i++ {
		key := start.AddDate(0, i, 0).Format("2006-01")
		out = append(out, MonthCount{Month: key, Count: byMonth[key]})
	}
	return out
}

// BuildSummary assembles the dashboard summary.
func BuildSummary(ctx context.Context, s Store, now time.Time) (*Summary, error) {
	monthStart := MonthStart(now)
	since := monthStart.AddDate(0, -(MonthsInSummary - 1), 0)

	t, err := s.Totals(ctx, monthStart, since, TopPatientsInSummary)
	if err != nil {
		return nil, err
	}
	top := t.Top
	if top == nil {
		top = []TopPatient{}
	}
	return &Summary{
		TotalPatients:        t.Patients,
		TotalVisits:          t.Visits,
		AverageVisits:        Average(t.Visits, t.Patients),
		NewPatientsThisMonth: t.NewThisMonth,
		DriftedPatients:      t.DriftedPatients,
		TopPatients:          top,
		VisitsByMonth:        Months(now, MonthsInSummary, t.VisitsByMonth),
		GeneratedAt:          now.UTC(),
	}, nil
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	store Store
	now   func() time.Time
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports")
	g.GET("/summary", h.Summary)
	g.GET("/measures", h.ListMeasures, auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
	g.GET("/measures/:id", h.EvaluateMeasure, auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor))
}

func (h *Handler) Summary(c echo.Context) error {
	s, err := BuildSummary(c.Request().Context(), h.store, h.now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the rows.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return apperr.NotFound("Measure", c.Param("id"))
	}

	results, err := h.store.Evaluate(c.Request().Context(), measure.SQL)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		GeneratedAt: h.now().UTC(),
		Results:     results,
	})
}
