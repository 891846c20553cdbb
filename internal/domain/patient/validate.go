package patient

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clinic/registry/internal/platform/apperr"
)

const (
	maxNameLen    = 255
	maxAddressLen = 500
	maxReasonLen  = 500

	msgNameRequired    = "Full name is required"
	msgNameTooLong     = "Full name is too long"
	msgBirthDate       = "Invalid date format. Use YYYY-MM-DD"
	msgAddressRequired = "Address is required"
	msgAddressTooLong  = "Address is too long"
	msgReasonRequired  = "Reason is required"
	msgReasonTooLong   = "Reason is too long"
	msgVisitDate       = "Invalid date format. Use YYYY-MM-DD or YYYY-MM-DDTHH:mm"
	msgVisitDateOnly   = "Invalid date format. Use YYYY-MM-DD"
	msgVisitCount      = "Visit count must be a non-negative integer"
	msgBirthInFuture   = "Birth date cannot be in the future"
)

var (
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateTimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}(:\d{2})?)?$`)
)

// Validator checks payloads before they reach the store. The phone rule
// depends on the clinic's country code.
type Validator struct {
	countryCode  string
	phonePattern *regexp.Regexp
	now          func() time.Time
}

// NewValidator returns a Validator accepting phones of the form
// +<countryCode><9 digits>.
func NewValidator(countryCode string) *Validator {
	cc := strings.TrimPrefix(countryCode, "+")
	return &Validator{
		countryCode:  cc,
		phonePattern: regexp.MustCompile(`^\+` + regexp.QuoteMeta(cc) + `\d{9}$`),
		now:          time.Now,
	}
}

func (v *Validator) phoneMessage() string {
	return fmt.Sprintf("Invalid phone format. Use +%sXXXXXXXXX", v.countryCode)
}

// CreatePatient validates a register payload. It trims string fields and
// drops an empty phone in place.
func (v *Validator) CreatePatient(in *CreatePatientInput) error {
	ve := &apperr.ValidationError{}

	in.FullName = strings.TrimSpace(in.FullName)
	in.Address = strings.TrimSpace(in.Address)
	in.BirthDate = strings.TrimSpace(in.BirthDate)
	if in.Phone != nil {
		p := strings.TrimSpace(*in.Phone)
		if p == "" {
			in.Phone = nil
		} else {
			in.Phone = &p
		}
	}

	v.checkName(ve, in.FullName)
	v.checkBirthDate(ve, in.BirthDate)
	v.checkAddress(ve, in.Address)
	if in.Phone != nil {
		v.checkPhone(ve, *in.Phone)
	}
	return ve.OrNil()
}

// UpdatePatient validates only the fields present in the patch.
func (v *Validator) UpdatePatient(in *UpdatePatientInput) error {
	ve := &apperr.ValidationError{}

	if in.FullName != nil {
		s := strings.TrimSpace(*in.FullName)
		in.FullName = &s
		v.checkName(ve, s)
	}
	if in.BirthDate != nil {
		s := strings.TrimSpace(*in.BirthDate)
		in.BirthDate = &s
		v.checkBirthDate(ve, s)
	}
	if in.Address != nil {
		s := strings.TrimSpace(*in.Address)
		in.Address = &s
		v.checkAddress(ve, s)
	}
	if in.Phone != nil {
		s := strings.TrimSpace(*in.Phone)
		in.Phone = &s
		if s != "" {
			v.checkPhone(ve, s)
		}
	}
	return ve.OrNil()
}

// CreateVisit validates a register-visit payload.
func (v *Validator) CreateVisit(in *CreateVisitInput) error {
	ve := &apperr.ValidationError{}

	in.Reason = strings.TrimSpace(in.Reason)
	checkReason(ve, in.Reason)

	if in.VisitDate != nil {
		s := strings.TrimSpace(*in.VisitDate)
		if s == "" {
			in.VisitDate = nil
		} else {
			in.VisitDate = &s
			if _, err := ParseVisitDate(s); err != nil {
				ve.Add("visitDate", msgVisitDate)
			}
		}
	}
	return ve.OrNil()
}

// UpdateVisit validates a visit patch; the date must be date-only.
func (v *Validator) UpdateVisit(in *UpdateVisitInput) error {
	ve := &apperr.ValidationError{}

	if in.Reason != nil {
		s := strings.TrimSpace(*in.Reason)
		in.Reason = &s
		checkReason(ve, s)
	}
	if in.VisitDate != nil {
		s := strings.TrimSpace(*in.VisitDate)
		in.VisitDate = &s
		if _, err := parseDate(s); err != nil {
			ve.Add("visitDate", msgVisitDateOnly)
		}
	}
	return ve.OrNil()
}

// VisitCount validates a counter overwrite.
func (v *Validator) VisitCount(in *SetVisitCountInput) error {
	if in.VisitCount == nil || *in.VisitCount < 0 {
		return apperr.Invalid("visitCount", msgVisitCount)
	}
	return nil
}

func (v *Validator) checkName(ve *apperr.ValidationError, s string) {
	switch {
	case s == "":
		ve.Add("fullName", msgNameRequired)
	case utf8.RuneCountInString(s) > maxNameLen:
		ve.Add("fullName", msgNameTooLong)
	}
}

func (v *Validator) checkBirthDate(ve *apperr.ValidationError, s string) {
	d, err := parseDate(s)
	if err != nil {
		ve.Add("birthDate", msgBirthDate)
		return
	}
	if d.After(v.now().UTC()) {
		ve.Add("birthDate", msgBirthInFuture)
	}
}

func (v *Validator) checkAddress(ve *apperr.ValidationError, s string) {
	switch {
	case s == "":
		ve.Add("address", msgAddressRequired)
	case utf8.RuneCountInString(s) > maxAddressLen:
		ve.Add("address", msgAddressTooLong)
	}
}

func (v *Validator) checkPhone(ve *apperr.ValidationError, s string) {
	if !v.phonePattern.MatchString(s) {
		ve.Add("phone", v.phoneMessage())
	}
}

func checkReason(ve *apperr.ValidationError, s string) {
	switch {
	case s == "":
		ve.Add("reason", msgReasonRequired)
	case utf8.RuneCountInString(s) > maxReasonLen:
		ve.Add("reason", msgReasonTooLong)
	}
}

func parseDate(s string) (time.Time, error) {
	if !datePattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return checkYear(time.ParseInLocation("2006-01-02", s, time.UTC))
}

// ParseVisitDate accepts YYYY-MM-DD, YYYY-MM-DDTHH:mm and
// YYYY-MM-DDTHH:mm:ss, all interpreted as UTC.
func ParseVisitDate(s string) (time.Time, error) {
	if !dateTimePattern.MatchString(s) {
		return time.Time{}, fmt.Errorf("invalid visit date %q", s)
	}
	var layout string
	switch len(s) {
	case len("2006-01-02"):
		layout = "2006-01-02"
	case len("2006-01-02T15:04"):
		layout = "2006-01-02T15:04"
	default:
		layout = "2006-01-02T15:04:05"
	}
	return checkYear(time.ParseInLocation(layout, s, time.UTC))
}

// checkYear rejects year 0, which PostgreSQL dates cannot hold.
func checkYear(t time.Time, err error) (time.Time, error) {
	if err != nil {
		return t, err
	}
	if t.Year() < 1 {
		return time.Time{}, fmt.Errorf("year %d out of range", t.Year())
	}
	return t, nil
}
