package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinic/registry/internal/platform/auth"
	"github.com/clinic/registry/internal/platform/db"
	"github.com/clinic/registry/internal/platform/events"
	"github.com/clinic/registry/internal/platform/metrics"
	"github.com/clinic/registry/internal/platform/telemetry"
	"github.com/clinic/registry/pkg/pagination"
)

// Service owns the patient/visit workflows. Every operation that touches a
// visit row and the owner's visit_count runs both writes in one
// transaction.
type Service struct {
	repo      Repository
	tx        db.Transactor
	validator *Validator
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, tx db.Transactor, validator *Validator) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		validator: validator,
		publisher: events.NopPublisher{},
		logger:    zerolog.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher attaches the event publisher used after commits.
func (s *Service) SetPublisher(p events.Publisher) {
	if p != nil {
		s.publisher = p
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l.With().Str("component", "patient").Logger()
}

// RegisterPatient creates the patient with visitCount 1 together with its
// first visit.
func (s *Service) RegisterPatient(ctx context.Context, in CreatePatientInput) (p *Patient, err error) {
	ctx, span := telemetry.Start(ctx, "patient.RegisterPatient")
	defer func() { telemetry.End(span, err) }()

	if err := s.validator.CreatePatient(&in); err != nil {
		return nil, err
	}

	now := s.now()
	p = &Patient{
		FullName:   in.FullName,
		BirthDate:  in.BirthDate,
		Address:    in.Address,
		Phone:      in.Phone,
		VisitCount: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	first := &Visit{
		Reason:    FirstVisitReason,
		VisitDate: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreatePatient(ctx, p); err != nil {
			return err
		}
		first.PatientID = p.ID
		return s.repo.CreateVisit(ctx, first)
	})
	if err != nil {
		return nil, err
	}
	p.Visits = []*Visit{first}

	s.metrics.PatientRegistered()
	s.logger.Info().Str("patient_id", p.ID.String()).Msg("patient registered")
	s.publish(ctx, events.New(events.PatientRegistered, p.ID, p.VisitCount).WithVisit(first.ID))
	return p, nil
}

// GetPatient returns the patient with its full visit history, newest first.
func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p *Patient
	err := s.tx.InSnapshot(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.repo.GetPatient(ctx, id); err != nil {
			return err
		}
		p.Visits, err = s.repo.VisitsByPatient(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.Visits == nil {
		p.Visits = []*Visit{}
	}
	return p, nil
}

// UpdatePatient applies only the fields present in the patch.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, in UpdatePatientInput) (p *Patient, err error) {
	ctx, span := telemetry.Start(ctx, "patient.UpdatePatient", attribute.String("patient.id", id.String()))
	defer func() { telemetry.End(span, err) }()

	if err := s.validator.UpdatePatient(&in); err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.repo.LockPatient(ctx, id); err != nil {
			return err
		}
		applyPatientPatch(p, in)
		p.UpdatedAt = s.now()
		return s.repo.UpdatePatient(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.New(events.PatientUpdated, p.ID, p.VisitCount))
	return p, nil
}

func applyPatientPatch(p *Patient, in UpdatePatientInput) {
	if in.FullName != nil {
		p.FullName = *in.FullName
	}
	if in.BirthDate != nil {
		p.BirthDate = *in.BirthDate
	}
	if in.Address != nil {
		p.Address = *in.Address
	}
	if in.Phone != nil {
		if *in.Phone == "" {
			p.Phone = nil
		} else {
			phone := *in.Phone
			p.Phone = &phone
		}
	}
}

// DeletePatient removes the patient and, through the cascade, its visits.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := telemetry.Start(ctx, "patient.DeletePatient", attribute.String("patient.id", id.String()))
	defer func() { telemetry.End(span, err) }()

	if err := s.repo.DeletePatient(ctx, id); err != nil {
		return err
	}
	s.metrics.PatientDeleted()
	s.logger.Info().Str("patient_id", id.String()).Msg("patient deleted")
	s.publish(ctx, events.New(events.PatientDeleted, id, 0))
	return nil
}

// ListPatients returns one page of patients, newest first, each with its
// most recent visits. Count and rows come from the same snapshot.
func (s *Service) ListPatients(ctx context.Context, params ListParams) (*PatientList, error) {
	page := pagination.New(params.Page.Page, params.Page.Limit)

	var (
		items []*Patient
		total int
	)
	err := s.tx.InSnapshot(ctx, func(ctx context.Context) error {
		var err error
		items, total, err = s.repo.ListPatients(ctx, params.Search, page.Limit, page.Offset())
		if err != nil || len(items) == 0 {
			return err
		}

		ids := make([]uuid.UUID, len(items))
		for i, p := range items {
			ids[i] = p.ID
		}
		recent, err := s.repo.RecentVisits(ctx, ids, RecentVisitsPerPatient)
		if err != nil {
			return err
		}
		for _, p := range items {
			p.Visits = recent[p.ID]
			if p.Visits == nil {
				p.Visits = []*Visit{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Patient{}
	}
	return &PatientList{Patients: items, Pagination: pagination.NewMeta(page, total)}, nil
}

// RegisterVisit adds a visit and increments the owner's visitCount by one.
// An unknown patient yields NotFound and writes nothing.
func (s *Service) RegisterVisit(ctx context.Context, patientID uuid.UUID, in CreateVisitInput) (v *Visit, err error) {
	ctx, span := telemetry.Start(ctx, "patient.RegisterVisit", attribute.String("patient.id", patientID.String()))
	defer func() { telemetry.End(span, err) }()

	if err := s.validator.CreateVisit(&in); err != nil {
		return nil, err
	}

	now := s.now()
	visitDate := now
	if in.VisitDate != nil {
		// Already checked by the validator.
		visitDate, _ = ParseVisitDate(*in.VisitDate)
	}
	v = &Visit{
		PatientID: patientID,
		Reason:    in.Reason,
		VisitDate: visitDate,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var count int
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.LockPatient(ctx, patientID); err != nil {
			return err
		}
		if err := s.repo.CreateVisit(ctx, v); err != nil {
			return err
		}
		var err error
		count, err = s.repo.AdjustVisitCount(ctx, patientID, 1)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.VisitRegistered()
	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("visit_id", v.ID.String()).
		Int("visit_count", count).
		Msg("visit registered")
	s.publish(ctx, events.New(events.VisitRegistered, patientID, count).WithVisit(v.ID))
	return v, nil
}

// ListVisits returns one page of the patient's visits, newest first.
func (s *Service) ListVisits(ctx context.Context, patientID uuid.UUID, params pagination.Params) (*VisitList, error) {
	page := pagination.New(params.Page, params.Limit)

	var (
		items []*Visit
		total int
	)
	err := s.tx.InSnapshot(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetPatient(ctx, patientID); err != nil {
			return err
		}
		var err error
		items, total, err = s.repo.ListVisits(ctx, patientID, page.Limit, page.Offset())
		return err
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Visit{}
	}
	return &VisitList{Visits: items, Pagination: pagination.NewMeta(page, total)}, nil
}

// UpdateVisit patches reason and/or date. The counter is untouched.
func (s *Service) UpdateVisit(ctx context.Context, patientID, visitID uuid.UUID, in UpdateVisitInput) (v *Visit, err error) {
	ctx, span := telemetry.Start(ctx, "patient.UpdateVisit", attribute.String("visit.id", visitID.String()))
	defer func() { telemetry.End(span, err) }()

	if err := s.validator.UpdateVisit(&in); err != nil {
		return nil, err
	}

	var count int
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		owner, err := s.repo.GetPatient(ctx, patientID)
		if err != nil {
			return err
		}
		count = owner.VisitCount
		if v, err = s.repo.GetVisit(ctx, patientID, visitID); err != nil {
			return err
		}
		if in.Reason != nil {
			v.Reason = *in.Reason
		}
		if in.VisitDate != nil {
			v.VisitDate, _ = ParseVisitDate(*in.VisitDate)
		}
		v.UpdatedAt = s.now()
		return s.repo.UpdateVisit(ctx, v)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.New(events.VisitUpdated, patientID, count).WithVisit(visitID))
	return v, nil
}

// DeleteVisit removes a visit of the given patient and decrements the
// patient's visitCount by one. A visit owned by another patient is
// reported as not found, so no other counter can be decremented.
func (s *Service) DeleteVisit(ctx context.Context, patientID, visitID uuid.UUID) (err error) {
	ctx, span := telemetry.Start(ctx, "patient.DeleteVisit", attribute.String("visit.id", visitID.String()))
	defer func() { telemetry.End(span, err) }()

	var count int
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.LockPatient(ctx, patientID); err != nil {
			return err
		}
		if err := s.repo.DeleteVisit(ctx, patientID, visitID); err != nil {
			return err
		}
		var err error
		count, err = s.repo.AdjustVisitCount(ctx, patientID, -1)
		return err
	})
	if err != nil {
		return err
	}

	s.metrics.VisitDeleted()
	s.logger.Info().
		Str("patient_id", patientID.String()).
		Str("visit_id", visitID.String()).
		Int("visit_count", count).
		Msg("visit deleted")
	s.publish(ctx, events.New(events.VisitDeleted, patientID, count).WithVisit(visitID))
	return nil
}

// SetVisitCount overwrites the cached counter without touching visit rows.
// The result may disagree with the number of visits; ReconcileVisitCount
// restores agreement.
func (s *Service) SetVisitCount(ctx context.Context, patientID uuid.UUID, in SetVisitCountInput) (p *Patient, err error) {
	ctx, span := telemetry.Start(ctx, "patient.SetVisitCount", attribute.String("patient.id", patientID.String()))
	defer func() { telemetry.End(span, err) }()

	if err := s.validator.VisitCount(&in); err != nil {
		return nil, err
	}

	var previous int
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.repo.LockPatient(ctx, patientID); err != nil {
			return err
		}
		previous = p.VisitCount
		if err := s.repo.SetVisitCount(ctx, patientID, *in.VisitCount); err != nil {
			return err
		}
		p.VisitCount = *in.VisitCount
		p.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.VisitCountOverwritten()
	s.logger.Warn().
		Str("patient_id", patientID.String()).
		Int("previous", previous).
		Int("visit_count", p.VisitCount).
		Str("actor", auth.UserIDFromContext(ctx)).
		Msg("visit count overwritten manually")
	s.publish(ctx, events.New(events.VisitCountOverwritten, patientID, p.VisitCount))
	return p, nil
}

// ReconcileVisitCount recomputes visitCount from the patient's visit rows.
func (s *Service) ReconcileVisitCount(ctx context.Context, patientID uuid.UUID) (p *Patient, err error) {
	ctx, span := telemetry.Start(ctx, "patient.ReconcileVisitCount", attribute.String("patient.id", patientID.String()))
	defer func() { telemetry.End(span, err) }()

	var previous int
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.repo.LockPatient(ctx, patientID); err != nil {
			return err
		}
		previous = p.VisitCount
		p.VisitCount, err = s.repo.RecountVisits(ctx, patientID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if previous != p.VisitCount {
		s.metrics.VisitCountsRepaired(1)
		s.logger.Warn().
			Str("patient_id", patientID.String()).
			Int("previous", previous).
			Int("visit_count", p.VisitCount).
			Msg("visit count reconciled")
		s.publish(ctx, events.New(events.VisitCountReconciled, patientID, p.VisitCount))
	}
	return p, nil
}

// ReconcileAll repairs every drifted counter and returns how many changed.
func (s *Service) ReconcileAll(ctx context.Context) (int64, error) {
	var n int64
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.repo.RecountAll(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.metrics.VisitCountsRepaired(int(n))
	s.logger.Info().Int64("repaired", n).Msg("visit counts reconciled")
	return n, nil
}

// publish is best effort: the write has already committed.
func (s *Service) publish(ctx context.Context, e events.Event) {
	e.Actor = auth.UserIDFromContext(ctx)
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.metrics.EventPublishFailed(string(e.Type))
		s.logger.Error().Err(err).Str("type", string(e.Type)).Msg("publish event")
	}
}
