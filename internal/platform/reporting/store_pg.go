package reporting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/registry/internal/platform/db"
)

type pgStore struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Totals(ctx context.Context, monthStart, since time.Time, top int) (*Totals, error) {
	t := &Totals{VisitsByMonth: map[string]int{}}

	err := db.WithSnapshot(ctx, s.pool, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)

		err := tx.QueryRow(ctx, `
			SELECT COUNT(*),
			       COALESCE(SUM(visit_count), 0),
			       COUNT(*) FILTER (WHERE created_at >= $1)
			FROM patients`, monthStart).Scan(&t.Patients, &t.Visits, &t.NewThisMonth)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM patients p
			WHERE p.visit_count <> (SELECT COUNT(*) FROM visits v WHERE v.patient_id = p.id)`).Scan(&t.DriftedPatients)
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT id, full_name, visit_count FROM patients
			ORDER BY visit_count DESC, full_name ASC LIMIT $1`, top)
		if err != nil {
			return err
		}
		t.Top, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (TopPatient, error) {
			var p TopPatient
			err := row.Scan(&p.ID, &p.FullName, &p.VisitCount)
			return p, err
		})
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `
			SELECT to_char(date_trunc('month', visit_date AT TIME ZONE 'UTC'), 'YYYY-MM') AS month, COUNT(*)
			FROM visits WHERE visit_date >= $1
			GROUP BY month`, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var month string
			var n int
			if err := rows.Scan(&month, &n); err != nil {
				return err
			}
			t.VisitsByMonth[month] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	return t, nil
}

// Evaluate runs a catalog query and returns rows as column maps.
func (s *pgStore) Evaluate(ctx context.Context, sql string) ([]map[string]interface{}, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = jsonValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return results, nil
}

// jsonValue turns driver values that marshal poorly into strings.
func jsonValue(v interface{}) interface{} {
	if b, ok := v.([16]byte); ok {
		return uuid.UUID(b).String()
	}
	return v
}
