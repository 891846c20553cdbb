package db

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinic/registry/internal/platform/apperr"
)

// Classify separates "the store is unreachable" from every other failure.
// Connection failures come back wrapped in apperr.ConnectionError,
// pgx.ErrNoRows as apperr.ErrNotFound; anything else is returned as is.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if apperr.IsConnection(err) || apperr.IsNotFound(err) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Join(apperr.ErrNotFound, err)
	}
	if IsConnectionError(err) {
		return apperr.Connection(err)
	}
	return err
}

// IsConnectionError reports whether err came from failing to reach or
// losing the connection to PostgreSQL.
func IsConnectionError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception. 57P01..57P03: server shutting down
		// or not accepting connections.
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return strings.Contains(err.Error(), "closed pool") ||
		strings.Contains(err.Error(), "conn closed")
}
