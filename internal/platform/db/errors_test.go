package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinic/registry/internal/platform/apperr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantNotFound bool
		wantConn     bool
	}{
		{"nil", nil, false, false},
		{"no rows", pgx.ErrNoRows, true, false},
		{"wrapped no rows", fmt.Errorf("get patient: %w", pgx.ErrNoRows), true, false},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, false, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, false, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false, false},
		{"closed pool", errors.New("closed pool"), false, true},
		{"other", errors.New("syntax error"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if apperr.IsNotFound(got) != tt.wantNotFound {
				t.Errorf("IsNotFound = %v, want %v", apperr.IsNotFound(got), tt.wantNotFound)
			}
			if apperr.IsConnection(got) != tt.wantConn {
				t.Errorf("IsConnection = %v, want %v", apperr.IsConnection(got), tt.wantConn)
			}
			if !errors.Is(got, tt.err) {
				t.Error("expected original error to stay in the chain")
			}
		})
	}
}
