package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists patients and visits. Methods join the transaction
// carried by ctx when there is one. Missing rows are reported as
// apperr.NotFound("Patient"|"Visit", id).
type Repository interface {
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	// LockPatient reads the patient and holds a row lock until the
	// surrounding transaction ends.
	LockPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	UpdatePatient(ctx context.Context, p *Patient) error
	DeletePatient(ctx context.Context, id uuid.UUID) error
	ListPatients(ctx context.Context, search string, limit, offset int) ([]*Patient, int, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)

	CreateVisit(ctx context.Context, v *Visit) error
	GetVisit(ctx context.Context, patientID, visitID uuid.UUID) (*Visit, error)
	UpdateVisit(ctx context.Context, v *Visit) error
	DeleteVisit(ctx context.Context, patientID, visitID uuid.UUID) error
	ListVisits(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error)
	VisitsByPatient(ctx context.Context, patientID uuid.UUID) ([]*Visit, error)
	RecentVisits(ctx context.Context, patientIDs []uuid.UUID, perPatient int) (map[uuid.UUID][]*Visit, error)

	// AdjustVisitCount adds delta to the counter, never going below zero,
	// and returns the new value.
	AdjustVisitCount(ctx context.Context, patientID uuid.UUID, delta int) (int, error)
	SetVisitCount(ctx context.Context, patientID uuid.UUID, count int) error
	// RecountVisits sets the counter to the number of visit rows and
	// returns it.
	RecountVisits(ctx context.Context, patientID uuid.UUID) (int, error)
	// RecountAll repairs every drifted counter and returns how many
	// patients changed.
	RecountAll(ctx context.Context) (int64, error)

	// AllPatients streams every patient with its visits, oldest first.
	AllPatients(ctx context.Context, fn func(p *Patient) error) error
}
