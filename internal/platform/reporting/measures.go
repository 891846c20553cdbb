package reporting

import "time"

// MeasureDefinition defines a reporting measure with its SQL query.
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"sql"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measureId"`
	MeasureName string                   `json:"measureName"`
	GeneratedAt time.Time                `json:"generatedAt"`
	Results     []map[string]interface{} `json:"results"`
}

// PredefinedMeasures is the list of available reporting measures. The SQL
// is fixed; clients only choose a measure by id.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patient-count",
		Name:        "Patient Count",
		Description: "Total number of registered patients and how many have a phone on file",
		SQL:         `SELECT COUNT(*) AS total, COUNT(phone) AS with_phone FROM patients`,
	},
	{
		ID:          "visit-reasons",
		Name:        "Visit Reasons",
		Description: "The 20 most frequent visit reasons",
		SQL:         `SELECT reason, COUNT(*) AS total FROM visits GROUP BY reason ORDER BY total DESC, reason LIMIT 20`,
	},
	{
		ID:          "age-groups",
		Name:        "Age Groups",
		Description: "Patients grouped by age decade",
		SQL: `SELECT (EXTRACT(YEAR FROM age(birth_date))::int / 10) * 10 AS age_from, COUNT(*) AS total
			FROM patients GROUP BY age_from ORDER BY age_from`,
	},
	{
		ID:          "visit-count-drift",
		Name:        "Visit Count Drift",
		Description: "Patients whose cached visit count differs from their recorded visits",
		SQL: `SELECT p.id, p.full_name, p.visit_count, COUNT(v.id) AS recorded_visits
			FROM patients p LEFT JOIN visits v ON v.patient_id = p.id
			GROUP BY p.id HAVING p.visit_count <> COUNT(v.id)
			ORDER BY p.full_name`,
	},
	{
		ID:          "daily-visits",
		Name:        "Daily Visits",
		Description: "Visits per day over the last 30 days",
		SQL: `SELECT to_char(date_trunc('day', visit_date), 'YYYY-MM-DD') AS day, COUNT(*) AS total
			FROM visits WHERE visit_date >= NOW() - INTERVAL '30 days'
			GROUP BY day ORDER BY day`,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
