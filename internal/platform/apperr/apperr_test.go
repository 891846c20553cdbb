package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestValidationError_OrNil(t *testing.T) {
	ve := &ValidationError{}
	if ve.OrNil() != nil {
		t.Fatal("expected nil for empty validation error")
	}
	ve.Add("fullName", "Full name is required")
	ve.Add("address", "Address is required")
	err := ve.OrNil()
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsValidation(fmt.Errorf("wrap: %w", err)) {
		t.Error("expected IsValidation through wrapping")
	}
	if len(ve.Fields) != 2 {
		t.Errorf("expected 2 fields, got %d", len(ve.Fields))
	}
}

func TestNotFound_Is(t *testing.T) {
	err := fmt.Errorf("get: %w", NotFound("Patient", "abc"))
	if !IsNotFound(err) {
		t.Error("expected IsNotFound")
	}
	if IsConnection(err) {
		t.Error("not-found must not be a connection error")
	}
}

func TestConnection(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	err := Connection(base)
	if !IsConnection(err) {
		t.Error("expected IsConnection")
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped cause")
	}
	if Connection(err) != err {
		t.Error("expected Connection to be idempotent")
	}
	if Connection(nil) != nil {
		t.Error("expected nil passthrough")
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expose   bool
		wantCode int
		wantMsg  string
	}{
		{"validation", Invalid("fullName", "Full name is required"), false, http.StatusBadRequest, "Validation error"},
		{"patient not found", NotFound("Patient", "x"), false, http.StatusNotFound, "Patient not found"},
		{"visit not found", fmt.Errorf("delete: %w", NotFound("Visit", "y")), false, http.StatusNotFound, "Visit not found"},
		{"bare not found", ErrNotFound, false, http.StatusNotFound, "Not found"},
		{"connection", Connection(errors.New("refused")), false, http.StatusServiceUnavailable, "Database connection error"},
		{"echo http error", echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized"), false, http.StatusUnauthorized, "Unauthorized"},
		{"unexpected", errors.New("boom"), false, http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := Status(tt.err, tt.expose)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body.Error != tt.wantMsg {
				t.Errorf("error = %q, want %q", body.Error, tt.wantMsg)
			}
		})
	}
}

func TestStatus_UnexpectedDetailOnlyWhenExposed(t *testing.T) {
	_, body := Status(errors.New("boom"), false)
	if body.Details != nil {
		t.Errorf("expected no details, got %v", body.Details)
	}
	_, body = Status(errors.New("boom"), true)
	if body.Details != "boom" {
		t.Errorf("expected details boom, got %v", body.Details)
	}
}

func TestHTTPErrorHandler_ValidationBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/patients", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	ve := &ValidationError{}
	ve.Add("fullName", "Full name is required")
	HTTPErrorHandler(zerolog.Nop(), false)(ve, c)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Error   string       `json:"error"`
		Details []FieldError `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "Validation error" {
		t.Errorf("unexpected error: %s", body.Error)
	}
	if len(body.Details) != 1 || body.Details[0].Message != "Full name is required" {
		t.Errorf("unexpected details: %+v", body.Details)
	}
}

func TestHTTPErrorHandler_NotFoundBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/patients/x", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorHandler(zerolog.Nop(), true)(NotFound("Patient", "x"), c)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "Patient not found" {
		t.Errorf("unexpected body: %v", body)
	}
	if _, ok := body["details"]; ok {
		t.Error("expected no details for not found")
	}
}
