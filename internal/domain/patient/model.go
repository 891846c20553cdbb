package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinic/registry/pkg/pagination"
)

// FirstVisitReason is recorded on the visit created together with a patient.
const FirstVisitReason = "first consultation"

// RecentVisitsPerPatient is how many visits each listed patient carries.
const RecentVisitsPerPatient = 3

type Patient struct {
	ID         uuid.UUID `json:"id"`
	FullName   string    `json:"fullName"`
	BirthDate  string    `json:"birthDate"` // YYYY-MM-DD
	Address    string    `json:"address"`
	Phone      *string   `json:"phone"`
	VisitCount int       `json:"visitCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Visits     []*Visit  `json:"visits,omitempty"`
}

type Visit struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patientId"`
	Reason    string    `json:"reason"`
	VisitDate time.Time `json:"visitDate"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreatePatientInput is the register-patient payload.
type CreatePatientInput struct {
	FullName  string  `json:"fullName"`
	BirthDate string  `json:"birthDate"`
	Address   string  `json:"address"`
	Phone     *string `json:"phone"`
}

// UpdatePatientInput is a partial patch; nil fields are left unchanged.
// An empty Phone clears the stored number.
type UpdatePatientInput struct {
	FullName  *string `json:"fullName"`
	BirthDate *string `json:"birthDate"`
	Address   *string `json:"address"`
	Phone     *string `json:"phone"`
}

// CreateVisitInput is the register-visit payload. A nil VisitDate means now.
type CreateVisitInput struct {
	Reason    string  `json:"reason"`
	VisitDate *string `json:"visitDate"`
}

// UpdateVisitInput is a partial patch of a visit.
type UpdateVisitInput struct {
	Reason    *string `json:"reason"`
	VisitDate *string `json:"visitDate"`
}

// SetVisitCountInput overwrites the cached counter.
type SetVisitCountInput struct {
	VisitCount *int `json:"visitCount"`
}

// ListParams selects a page of patients.
type ListParams struct {
	Page   pagination.Params
	Search string
}

type PatientList struct {
	Patients   []*Patient      `json:"patients"`
	Pagination pagination.Meta `json:"pagination"`
}

type VisitList struct {
	Visits     []*Visit        `json:"visits"`
	Pagination pagination.Meta `json:"pagination"`
}
