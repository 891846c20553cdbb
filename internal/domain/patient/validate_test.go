package patient

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/clinic/registry/internal/platform/apperr"
)

func testValidator() *Validator {
	v := NewValidator("+998")
	v.now = func() time.Time { return testNow }
	return v
}

func fieldMessages(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	out := make(map[string]string, len(ve.Fields))
	for _, f := range ve.Fields {
		out[f.Field] = f.Message
	}
	return out
}

func TestValidateCreatePatient(t *testing.T) {
	v := testValidator()

	tests := []struct {
		name  string
		in    CreatePatientInput
		field string
		msg   string
	}{
		{"missing name", CreatePatientInput{BirthDate: "1990-01-15", Address: "x"}, "fullName", msgNameRequired},
		{"blank name", CreatePatientInput{FullName: "   ", BirthDate: "1990-01-15", Address: "x"}, "fullName", msgNameRequired},
		{"long name", CreatePatientInput{FullName: strings.Repeat("a", 256), BirthDate: "1990-01-15", Address: "x"}, "fullName", msgNameTooLong},
		{"bad date format", CreatePatientInput{FullName: "A", BirthDate: "15/01/1990", Address: "x"}, "birthDate", msgBirthDate},
		{"impossible date", CreatePatientInput{FullName: "A", BirthDate: "1990-02-30", Address: "x"}, "birthDate", msgBirthDate},
		{"year zero", CreatePatientInput{FullName: "A", BirthDate: "0000-01-01", Address: "x"}, "birthDate", msgBirthDate},
		{"future date", CreatePatientInput{FullName: "A", BirthDate: "2030-01-01", Address: "x"}, "birthDate", msgBirthInFuture},
		{"missing address", CreatePatientInput{FullName: "A", BirthDate: "1990-01-15"}, "address", msgAddressRequired},
		{"long address", CreatePatientInput{FullName: "A", BirthDate: "1990-01-15", Address: strings.Repeat("b", 501)}, "address", msgAddressTooLong},
		{"bad phone", CreatePatientInput{FullName: "A", BirthDate: "1990-01-15", Address: "x", Phone: strPtr("901234567")}, "phone", "Invalid phone format. Use +998XXXXXXXXX"},
		{"wrong country", CreatePatientInput{FullName: "A", BirthDate: "1990-01-15", Address: "x", Phone: strPtr("+7901234567")}, "phone", "Invalid phone format. Use +998XXXXXXXXX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			msgs := fieldMessages(t, v.CreatePatient(&in))
			if msgs[tt.field] != tt.msg {
				t.Errorf("expected %s: %q, got %v", tt.field, tt.msg, msgs)
			}
		})
	}
}

func TestValidateCreatePatient_Valid(t *testing.T) {
	v := testValidator()
	in := CreatePatientInput{
		FullName:  "  John Doe ",
		BirthDate: "1990-01-15",
		Address:   " 123 Main St",
		Phone:     strPtr("  "),
	}
	if err := v.CreatePatient(&in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.FullName != "John Doe" || in.Address != "123 Main St" {
		t.Errorf("expected trimmed fields, got %+v", in)
	}
	if in.Phone != nil {
		t.Error("expected blank phone dropped")
	}

	in.Phone = strPtr("+998901234567")
	if err := v.CreatePatient(&in); err != nil {
		t.Errorf("expected valid phone, got %v", err)
	}
	in.FullName = strings.Repeat("ш", 255)
	if err := v.CreatePatient(&in); err != nil {
		t.Errorf("expected 255 runes accepted, got %v", err)
	}
}

func TestValidateCreatePatient_ReportsEveryField(t *testing.T) {
	msgs := fieldMessages(t, testValidator().CreatePatient(&CreatePatientInput{}))
	for _, f := range []string{"fullName", "birthDate", "address"} {
		if _, ok := msgs[f]; !ok {
			t.Errorf("expected error for %s, got %v", f, msgs)
		}
	}
}

func TestValidateUpdatePatient(t *testing.T) {
	v := testValidator()

	if err := v.UpdatePatient(&UpdatePatientInput{}); err != nil {
		t.Errorf("expected empty patch to be valid, got %v", err)
	}
	if err := v.UpdatePatient(&UpdatePatientInput{Phone: strPtr("")}); err != nil {
		t.Errorf("expected empty phone to be valid, got %v", err)
	}

	msgs := fieldMessages(t, v.UpdatePatient(&UpdatePatientInput{
		FullName:  strPtr(" "),
		BirthDate: strPtr("1990-13-01"),
		Phone:     strPtr("+99890"),
	}))
	if msgs["fullName"] != msgNameRequired || msgs["birthDate"] != msgBirthDate || msgs["phone"] == "" {
		t.Errorf("unexpected messages %v", msgs)
	}
	if _, ok := msgs["address"]; ok {
		t.Error("absent address must not be validated")
	}
}

func TestValidateCreateVisit(t *testing.T) {
	v := testValidator()

	for _, d := range []string{"2024-01-15", "2024-01-15T10:30", "2024-01-15T10:30:45"} {
		in := CreateVisitInput{Reason: "check", VisitDate: strPtr(d)}
		if err := v.CreateVisit(&in); err != nil {
			t.Errorf("expected %s accepted, got %v", d, err)
		}
	}

	in := CreateVisitInput{Reason: "check", VisitDate: strPtr("  ")}
	if err := v.CreateVisit(&in); err != nil || in.VisitDate != nil {
		t.Errorf("expected blank date treated as absent, got %v %v", err, in.VisitDate)
	}

	msgs := fieldMessages(t, v.CreateVisit(&CreateVisitInput{Reason: strings.Repeat("r", 501), VisitDate: strPtr("2024-01-15 10:30")}))
	if msgs["reason"] != msgReasonTooLong || msgs["visitDate"] != msgVisitDate {
		t.Errorf("unexpected messages %v", msgs)
	}
	msgs = fieldMessages(t, v.CreateVisit(&CreateVisitInput{}))
	if msgs["reason"] != msgReasonRequired {
		t.Errorf("unexpected messages %v", msgs)
	}
}

func TestValidateUpdateVisit(t *testing.T) {
	v := testValidator()
	if err := v.UpdateVisit(&UpdateVisitInput{VisitDate: strPtr("2024-01-15")}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	msgs := fieldMessages(t, v.UpdateVisit(&UpdateVisitInput{Reason: strPtr(""), VisitDate: strPtr("2024-01-15T10:30")}))
	if msgs["reason"] != msgReasonRequired || msgs["visitDate"] != msgVisitDateOnly {
		t.Errorf("unexpected messages %v", msgs)
	}
}

func TestValidateVisitCount(t *testing.T) {
	v := testValidator()
	if err := v.VisitCount(&SetVisitCountInput{VisitCount: intPtr(0)}); err != nil {
		t.Errorf("expected 0 accepted, got %v", err)
	}
	msgs := fieldMessages(t, v.VisitCount(&SetVisitCountInput{VisitCount: intPtr(-3)}))
	if msgs["visitCount"] != msgVisitCount {
		t.Errorf("unexpected messages %v", msgs)
	}
}

func TestParseVisitDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"2024-03-05T14:07", time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)},
		{"2024-03-05T14:07:09", time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseVisitDate(tt.in)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.in, tt.want, got)
		}
	}
	if _, err := ParseVisitDate("2024-03-05T25:00"); err == nil {
		t.Error("expected invalid hour rejected")
	}
	if _, err := ParseVisitDate("0000-03-05T10:00"); err == nil {
		t.Error("expected year 0 rejected")
	}
}
