package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/registry/internal/platform/apperr"
	"github.com/clinic/registry/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, full_name, to_char(birth_date, 'YYYY-MM-DD'), address, phone,
	visit_count, created_at, updated_at`

const visitCols = `id, patient_id, reason, visit_date, created_at, updated_at`

func patientNotFound(id uuid.UUID, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("Patient", id.String())
	}
	return db.Classify(err)
}

func visitNotFound(id uuid.UUID, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("Visit", id.String())
	}
	return db.Classify(err)
}

func (r *repoPG) CreatePatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, full_name, birth_date, address, phone, visit_count, created_at, updated_at)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)`,
		p.ID, p.FullName, p.BirthDate, p.Address, p.Phone, p.VisitCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return db.Classify(fmt.Errorf("insert patient: %w", err))
	}
	return nil
}

func (r *repoPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if err != nil {
		return nil, patientNotFound(id, err)
	}
	return p, nil
}

func (r *repoPG) LockPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, patientNotFound(id, err)
	}
	return p, nil
}

func (r *repoPG) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, db.Classify(err)
	}
	return exists, nil
}

func (r *repoPG) UpdatePatient(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET
			full_name = $2, birth_date = $3::date, address = $4, phone = $5, updated_at = $6
		WHERE id = $1`,
		p.ID, p.FullName, p.BirthDate, p.Address, p.Phone, p.UpdatedAt,
	)
	if err != nil {
		return db.Classify(fmt.Errorf("update patient: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Patient", p.ID.String())
	}
	return nil
}

func (r *repoPG) DeletePatient(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return db.Classify(fmt.Errorf("delete patient: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Patient", id.String())
	}
	return nil
}

func (r *repoPG) ListPatients(ctx context.Context, search string, limit, offset int) ([]*Patient, int, error) {
	where, args := searchClause(search)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(fmt.Errorf("count patients: %w", err))
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM patients%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		patientCols, where, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(fmt.Errorf("list patients: %w", err))
	}
	items, err := collectPatients(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// searchClause matches the term case-insensitively anywhere in the name,
// the address or the phone number.
func searchClause(search string) (string, []interface{}) {
	if search == "" {
		return "", nil
	}
	return ` WHERE full_name ILIKE $1 OR address ILIKE $1 OR phone ILIKE $1`,
		[]interface{}{"%" + escapeLike(search) + "%"}
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

func (r *repoPG) CreateVisit(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO visits (id, patient_id, reason, visit_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.PatientID, v.Reason, v.VisitDate, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return apperr.NotFound("Patient", v.PatientID.String())
		}
		return db.Classify(fmt.Errorf("insert visit: %w", err))
	}
	return nil
}

func (r *repoPG) GetVisit(ctx context.Context, patientID, visitID uuid.UUID) (*Visit, error) {
	v, err := scanVisit(r.conn(ctx).QueryRow(ctx,
		`SELECT `+visitCols+` FROM visits WHERE id = $1 AND patient_id = $2`, visitID, patientID))
	if err != nil {
		return nil, visitNotFound(visitID, err)
	}
	return v, nil
}

func (r *repoPG) UpdateVisit(ctx context.Context, v *Visit) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE visits SET reason = $3, visit_date = $4, updated_at = $5
		WHERE id = $1 AND patient_id = $2`,
		v.ID, v.PatientID, v.Reason, v.VisitDate, v.UpdatedAt,
	)
	if err != nil {
		return db.Classify(fmt.Errorf("update visit: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Visit", v.ID.String())
	}
	return nil
}

func (r *repoPG) DeleteVisit(ctx context.Context, patientID, visitID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM visits WHERE id = $1 AND patient_id = $2`, visitID, patientID)
	if err != nil {
		return db.Classify(fmt.Errorf("delete visit: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Visit", visitID.String())
	}
	return nil
}

func (r *repoPG) ListVisits(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visits WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, db.Classify(fmt.Errorf("count visits: %w", err))
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+visitCols+` FROM visits WHERE patient_id = $1
		ORDER BY visit_date DESC, created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, db.Classify(fmt.Errorf("list visits: %w", err))
	}
	items, err := collectVisits(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) VisitsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+visitCols+` FROM visits WHERE patient_id = $1
		ORDER BY visit_date DESC, created_at DESC`, patientID)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("list visits: %w", err))
	}
	return collectVisits(rows)
}

func (r *repoPG) RecentVisits(ctx context.Context, patientIDs []uuid.UUID, perPatient int) (map[uuid.UUID][]*Visit, error) {
	out := make(map[uuid.UUID][]*Visit, len(patientIDs))
	if len(patientIDs) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+visitCols+` FROM (
			SELECT v.*, ROW_NUMBER() OVER (PARTITION BY patient_id ORDER BY visit_date DESC, created_at DESC) AS rn
			FROM visits v WHERE patient_id = ANY($1::uuid[])
		) ranked
		WHERE rn <= $2
		ORDER BY patient_id, visit_date DESC, created_at DESC`, patientIDs, perPatient)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("recent visits: %w", err))
	}
	visits, err := collectVisits(rows)
	if err != nil {
		return nil, err
	}
	for _, v := range visits {
		out[v.PatientID] = append(out[v.PatientID], v)
	}
	return out, nil
}

func (r *repoPG) AdjustVisitCount(ctx context.Context, patientID uuid.UUID, delta int) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET visit_count = GREATEST(visit_count + $2, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING visit_count`, patientID, delta).Scan(&count)
	if err != nil {
		return 0, patientNotFound(patientID, err)
	}
	return count, nil
}

func (r *repoPG) SetVisitCount(ctx context.Context, patientID uuid.UUID, count int) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET visit_count = $2, updated_at = NOW() WHERE id = $1`, patientID, count)
	if err != nil {
		return db.Classify(fmt.Errorf("set visit count: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("Patient", patientID.String())
	}
	return nil
}

func (r *repoPG) RecountVisits(ctx context.Context, patientID uuid.UUID) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients p SET
			visit_count = (SELECT COUNT(*) FROM visits v WHERE v.patient_id = p.id),
			updated_at = NOW()
		WHERE p.id = $1
		RETURNING visit_count`, patientID).Scan(&count)
	if err != nil {
		return 0, patientNotFound(patientID, err)
	}
	return count, nil
}

func (r *repoPG) RecountAll(ctx context.Context) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients p SET visit_count = c.n, updated_at = NOW()
		FROM (
			SELECT p2.id, COUNT(v.id) AS n
			FROM patients p2 LEFT JOIN visits v ON v.patient_id = p2.id
			GROUP BY p2.id
		) c
		WHERE p.id = c.id AND p.visit_count <> c.n`)
	if err != nil {
		return 0, db.Classify(fmt.Errorf("recount visits: %w", err))
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) AllPatients(ctx context.Context, fn func(p *Patient) error) error {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients ORDER BY created_at, id`)
	if err != nil {
		return db.Classify(fmt.Errorf("export patients: %w", err))
	}
	patients, err := collectPatients(rows)
	if err != nil {
		return err
	}
	for _, p := range patients {
		visits, err := r.VisitsByPatient(ctx, p.ID)
		if err != nil {
			return err
		}
		p.Visits = visits
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FullName, &p.BirthDate, &p.Address, &p.Phone,
		&p.VisitCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return items, nil
}

func scanVisit(row pgx.Row) (*Visit, error) {
	var v Visit
	err := row.Scan(&v.ID, &v.PatientID, &v.Reason, &v.VisitDate, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func collectVisits(rows pgx.Rows) ([]*Visit, error) {
	defer rows.Close()
	var items []*Visit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return items, nil
}
