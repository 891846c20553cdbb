package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// ExportDocument is the full dump written by export and backup and read by
// import.
type ExportDocument struct {
	ExportDate    time.Time  `json:"exportDate"`
	TotalPatients int        `json:"totalPatients"`
	TotalVisits   int        `json:"totalVisits"`
	Patients      []*Patient `json:"patients"`
}

// ImportFailure names a patient that could not be imported.
type ImportFailure struct {
	ID    uuid.UUID `json:"id"`
	Error string    `json:"error"`
}

type ImportResult struct {
	Imported int             `json:"imported"`
	Skipped  int             `json:"skipped"`
	Failed   []ImportFailure `json:"failed,omitempty"`
}

// Export reads every patient with its visits from one snapshot.
func (s *Service) Export(ctx context.Context) (*ExportDocument, error) {
	doc := &ExportDocument{ExportDate: s.now(), Patients: []*Patient{}}
	err := s.tx.InSnapshot(ctx, func(ctx context.Context) error {
		return s.repo.AllPatients(ctx, func(p *Patient) error {
			if p.Visits == nil {
				p.Visits = []*Visit{}
			}
			doc.Patients = append(doc.Patients, p)
			doc.TotalVisits += len(p.Visits)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	doc.TotalPatients = len(doc.Patients)
	return doc, nil
}

// WriteExport encodes Export as indented JSON.
func (s *Service) WriteExport(ctx context.Context, w io.Writer) error {
	doc, err := s.Export(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ReadExport decodes an export document.
func ReadExport(r io.Reader) (*ExportDocument, error) {
	var doc ExportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return &doc, nil
}

// Import inserts each patient of doc with its visits in its own
// transaction. Patients whose id already exists are skipped. The stored
// visitCount is the number of imported visits, whatever the document says.
func (s *Service) Import(ctx context.Context, doc *ExportDocument) (*ImportResult, error) {
	res := &ImportResult{}
	for _, p := range doc.Patients {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		imported, err := s.importPatient(ctx, p)
		switch {
		case err != nil:
			res.Failed = append(res.Failed, ImportFailure{ID: p.ID, Error: err.Error()})
			s.logger.Warn().Err(err).Str("patient_id", p.ID.String()).Msg("import patient failed")
		case imported:
			res.Imported++
		default:
			res.Skipped++
		}
	}
	s.logger.Info().
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Int("failed", len(res.Failed)).
		Msg("import finished")
	return res, nil
}

func (s *Service) importPatient(ctx context.Context, src *Patient) (bool, error) {
	in := CreatePatientInput{
		FullName:  src.FullName,
		BirthDate: src.BirthDate,
		Address:   src.Address,
		Phone:     src.Phone,
	}
	if err := s.validator.CreatePatient(&in); err != nil {
		return false, err
	}

	now := s.now()
	p := &Patient{
		ID:         src.ID,
		FullName:   in.FullName,
		BirthDate:  in.BirthDate,
		Address:    in.Address,
		Phone:      in.Phone,
		VisitCount: len(src.Visits),
		CreatedAt:  orNow(src.CreatedAt, now),
		UpdatedAt:  orNow(src.UpdatedAt, now),
	}

	var imported bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if p.ID != uuid.Nil {
			exists, err := s.repo.PatientExists(ctx, p.ID)
			if err != nil || exists {
				return err
			}
		}
		if err := s.repo.CreatePatient(ctx, p); err != nil {
			return err
		}
		for _, sv := range src.Visits {
			v := &Visit{
				ID:        sv.ID,
				PatientID: p.ID,
				Reason:    sv.Reason,
				VisitDate: orNow(sv.VisitDate, now),
				CreatedAt: orNow(sv.CreatedAt, now),
				UpdatedAt: orNow(sv.UpdatedAt, now),
			}
			if v.Reason == "" {
				return fmt.Errorf("visit %s has no reason", sv.ID)
			}
			if err := s.repo.CreateVisit(ctx, v); err != nil {
				return err
			}
		}
		imported = true
		return nil
	})
	return imported, err
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
