package reporting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/registry/internal/platform/apperr"
	"github.com/clinic/registry/internal/platform/auth"
)

type fakeStore struct {
	totals    *Totals
	rows      []map[string]interface{}
	evaluated string
	gotSince  time.Time
	gotMonth  time.Time
}

func (f *fakeStore) Totals(_ context.Context, monthStart, since time.Time, _ int) (*Totals, error) {
	f.gotMonth = monthStart
	f.gotSince = since
	return f.totals, nil
}

func (f *fakeStore) Evaluate(_ context.Context, sql string) ([]map[string]interface{}, error) {
	f.evaluated = sql
	return f.rows, nil
}

func TestAverage(t *testing.T) {
	tests := []struct {
		visits, patients int
		want             float64
	}{
		{0, 0, 0},
		{10, 0, 0},
		{50, 10, 5},
		{10, 3, 3.3},
		{20, 3, 6.7},
	}
	for _, tt := range tests {
		if got := Average(tt.visits, tt.patients); got != tt.want {
			t.Errorf("Average(%d, %d) = %v, want %v", tt.visits, tt.patients, got, tt.want)
		}
	}
}

func TestMonths_FillsGapsOldestFirst(t *testing.T) {
	now := time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC)
	got := Months(now, 6, map[string]int{"2023-12": 4, "2024-02": 1})

	want := []MonthCount{
		{"2023-09", 0}, {"2023-10", 0}, {"2023-11", 0},
		{"2023-12", 4}, {"2024-01", 0}, {"2024-02", 1},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d months, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("month %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBuildSummary(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{totals: &Totals{
		Patients:      3,
		Visits:        10,
		NewThisMonth:  1,
		Top:           []TopPatient{{ID: id, FullName: "Farrux Abdullayev", VisitCount: 9}},
		VisitsByMonth: map[string]int{"2024-05": 2},
	}}
	now := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)

	s, err := BuildSummary(context.Background(), store, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AverageVisits != 3.3 {
		t.Errorf("expected average 3.3, got %v", s.AverageVisits)
	}
	if !store.gotMonth.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected month start %v", store.gotMonth)
	}
	if !store.gotSince.Equal(time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected since %v", store.gotSince)
	}
	if len(s.VisitsByMonth) != MonthsInSummary || s.VisitsByMonth[5].Count != 2 {
		t.Errorf("unexpected visitsByMonth %+v", s.VisitsByMonth)
	}
	if len(s.TopPatients) != 1 || s.TopPatients[0].ID != id {
		t.Errorf("unexpected top patients %+v", s.TopPatients)
	}
}

func TestBuildSummary_Empty(t *testing.T) {
	s, err := BuildSummary(context.Background(), &fakeStore{totals: &Totals{}}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if s.AverageVisits != 0 || s.TopPatients == nil {
		t.Errorf("expected zero average and empty top list, got %+v", s)
	}
}

func newReportEcho(store Store) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop(), false)
	e.Use(auth.DevMiddleware())
	NewHandler(store).RegisterRoutes(e.Group("/api"))
	return e
}

func TestHandler_Summary(t *testing.T) {
	e := newReportEcho(&fakeStore{totals: &Totals{Patients: 2, Visits: 3}})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"totalPatients", "totalVisits", "averageVisits", "newPatientsThisMonth", "topPatients", "visitsByMonth"} {
		if _, ok := body[key]; !ok {
			t.Errorf("expected key %s in summary", key)
		}
	}
	if body["averageVisits"] != 1.5 {
		t.Errorf("expected averageVisits 1.5, got %v", body["averageVisits"])
	}
}

func TestHandler_EvaluateMeasure(t *testing.T) {
	store := &fakeStore{rows: []map[string]interface{}{{"total": 3}}}
	e := newReportEcho(store)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/measures/patient-count", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if store.evaluated != FindMeasure("patient-count").SQL {
		t.Errorf("expected catalog SQL to run, got %q", store.evaluated)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reports/measures/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body apperr.Response
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "Measure not found" {
		t.Errorf("unexpected error body %q", body.Error)
	}
}

func TestPredefinedMeasures(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range PredefinedMeasures {
		if m.SQL == "" || m.Name == "" || m.Description == "" {
			t.Errorf("measure %s is incomplete", m.ID)
		}
		if seen[m.ID] {
			t.Errorf("duplicate measure id %s", m.ID)
		}
		seen[m.ID] = true
		if FindMeasure(m.ID) == nil {
			t.Errorf("FindMeasure(%s) returned nil", m.ID)
		}
	}
	if FindMeasure("nonexistent") != nil {
		t.Error("expected nil for nonexistent measure")
	}
}

func TestJSONValue_UUID(t *testing.T) {
	id := uuid.New()
	if got := jsonValue([16]byte(id)); got != id.String() {
		t.Errorf("expected %s, got %v", id, got)
	}
	if got := jsonValue(int64(4)); got != int64(4) {
		t.Errorf("expected passthrough, got %v", got)
	}
}
