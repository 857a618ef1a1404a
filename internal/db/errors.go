package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"railway-monitor/internal/rail"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStale is returned by UpdateTrain when the row changed after it was read.
// It matches rail.ErrConflict.
var ErrStale = fmt.Errorf("%w: train was modified concurrently", rail.ErrConflict)

// mapStoreErr sorts a driver error into the rail taxonomy: unreachable
// database → ErrUnavailable, unique violation → ErrConflict, anything else
// wrapped with op.
func mapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if unreachable(err) {
		return rail.Unavailable(op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return rail.Conflictf("%s: %s", op, pgErr.Detail)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func unreachable(err error) bool {
	var (
		connErr *pgconn.ConnectError
		netErr  net.Error
		pgErr   *pgconn.PgError
	)
	switch {
	case errors.As(err, &connErr), errors.As(err, &netErr):
		return true
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &pgErr):
		// class 08 connection exceptions, admin/crash shutdown, cannot connect now, too many connections
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P01" || pgErr.Code == "57P02" ||
			pgErr.Code == "57P03" || pgErr.Code == "53300"
	}
	return false
}
