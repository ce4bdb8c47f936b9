package postgres

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/megaagent/memcore/internal/memerr"
)

// retryableCodes are Postgres error classes worth retrying: serialization
// failures, deadlocks, connection problems, and resource exhaustion that
// clears on its own.
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P03": true, // cannot_connect_now
	"08000": true, // connection_exception
	"08003": true, // connection_does_not_exist
	"08006": true, // connection_failure
}

// WrapError classifies a driver error into the store error taxonomy:
// cancellation passes through, transient failures are marked retryable,
// everything else is a plain store error.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return memerr.FromContext(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && retryableCodes[pgErr.Code] {
		return memerr.Transient(memerr.KindStore, err, "%s", msg)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return memerr.Transient(memerr.KindStore, err, "%s", msg)
	}

	return memerr.Wrap(memerr.KindStore, err, "%s", msg)
}
