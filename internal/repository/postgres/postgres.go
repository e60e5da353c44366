package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/social-platform-identity/internal/core/port"
	"github.com/arklim/social-platform-identity/internal/repository"
)

// classifyError wraps driver-level failures with the repository sentinels the
// batch worker branches on. SQL-state classes 08 (connection exception), 57
// (operator intervention) and 53300 (too many connections) are transient;
// 40001/40P01 mean the engine aborted the transaction and the whole group
// should be retried.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return fmt.Errorf("%s: %w: %s", op, repository.ErrTxConflict, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57"), pgErr.Code == "53300":
			return fmt.Errorf("%s: %w: %s", op, repository.ErrStorageUnavailable, pgErr.Message)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if isConnectionError(err) {
		return fmt.Errorf("%s: %w: %v", op, repository.ErrStorageUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// isConnectionError reports whether the failure happened below the SQL layer.
// A cancelled or timed-out query counts: the statement never took effect, so
// the caller should treat the storage as unreachable rather than failed.
func isConnectionError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

// isUniqueViolation reports whether err is a unique-constraint violation,
// optionally on one specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// pgxTxFrom extracts the concrete pgx transaction from a port.Tx produced by
// this package's pool handles.
func pgxTxFrom(tx port.Tx) (pgx.Tx, error) {
	carrier, ok := tx.(interface{ Pgx() pgx.Tx })
	if !ok {
		return nil, fmt.Errorf("transaction %T does not carry a pgx handle", tx)
	}
	return carrier.Pgx(), nil
}
