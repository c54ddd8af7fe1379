package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on unique or primary key violations.
	ErrAlreadyExists = errors.New("already exists")

	// ErrForeignKey is returned when a referenced row does not exist.
	ErrForeignKey = errors.New("referenced row does not exist")

	// ErrInvalidValue is returned when a column rejects a value.
	ErrInvalidValue = errors.New("invalid column value")

	// ErrTableNotFound is returned when the schema has not been migrated.
	ErrTableNotFound = errors.New("table not found")

	// ErrStatusConflict is returned when a document was not in the state a
	// transition expected, e.g. it was claimed or finished elsewhere.
	ErrStatusConflict = errors.New("document status changed concurrently")
)

// mapError translates driver errors into the package's sentinel errors,
// keeping the driver error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if kind := classify(err); kind != nil && !errors.Is(err, kind) {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return err
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return ErrAlreadyExists
		case pgErr.Code == "23503":
			return ErrForeignKey
		case pgErr.Code == "42P01":
			return ErrTableNotFound
		case pgErr.Code == "23502", pgErr.Code == "23514", strings.HasPrefix(pgErr.Code, "22"):
			return ErrInvalidValue
		}
		return nil
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrAlreadyExists
		case sqlite3.ErrConstraintForeignKey:
			return ErrForeignKey
		case sqlite3.ErrConstraintNotNull, sqlite3.ErrConstraintCheck:
			return ErrInvalidValue
		}
		if strings.Contains(liteErr.Error(), "no such table") {
			return ErrTableNotFound
		}
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return ErrAlreadyExists
		case 1451, 1452:
			return ErrForeignKey
		case 1146:
			return ErrTableNotFound
		case 1048, 1264, 1366, 1406:
			return ErrInvalidValue
		}
	}
	return nil
}
