package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
)

// maintenanceDB is the database every PostgreSQL cluster ships with.
const maintenanceDB = "postgres"

// WithDBName returns dsn with its database path replaced. A DSN without a
// scheme is treated as postgres://.
func WithDBName(dsn, database string) (string, error) {
	u, err := parseDSN(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + strings.TrimPrefix(database, "/")
	return u.String(), nil
}

// DatabaseName extracts the database a DSN points at.
func DatabaseName(dsn string) (string, error) {
	u, err := parseDSN(dsn)
	if err != nil {
		return "", err
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "", fmt.Errorf("dsn has no database name")
	}
	return name, nil
}

func parseDSN(dsn string) (*url.URL, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("unsupported dsn scheme %q", u.Scheme)
	}
	return u, nil
}

// EnsureDatabase creates the database named by dsn when it does not exist,
// connecting through the maintenance database of the same cluster. It reports
// whether the database was created.
func EnsureDatabase(ctx context.Context, dsn string) (bool, error) {
	name, err := DatabaseName(dsn)
	if err != nil {
		return false, err
	}
	if name == maintenanceDB {
		return false, nil
	}
	metaDSN, err := WithDBName(dsn, maintenanceDB)
	if err != nil {
		return false, err
	}
	meta, err := Open(metaDSN)
	if err != nil {
		return false, err
	}
	defer meta.Close()

	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`
	if err := meta.QueryRowContext(ctx, q, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("query pg_database: %w", err)
	}
	if exists {
		return false, nil
	}
	// CREATE DATABASE takes no bind parameters.
	if _, err := meta.ExecContext(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return false, fmt.Errorf("create database %s: %w", name, err)
	}
	return true, nil
}
