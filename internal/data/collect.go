package data

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/hullcrest/armada/internal/data/pgxutil"
	apperrors "github.com/hullcrest/armada/internal/errors"
)

// queryOne runs a query expected to return exactly one row and scans it by
// column name. pgx.ErrNoRows surfaces as a not_found AppError naming entity.
func queryOne[T any](ctx context.Context, db *sql.DB, entity, query string, args ...any) (*T, error) {
	var out T
	err := pgxutil.WithPgxConn(ctx, db, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[T])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound(entity + " not found")
		}
		return nil, apperrors.MapDBError(err)
	}
	return &out, nil
}

// queryMany runs a query and scans every row by column name.
func queryMany[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]*T, error) {
	var out []*T
	err := pgxutil.WithPgxConn(ctx, db, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[T])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out, nil
}

// queryScalar runs a query returning a single value (count, exists, id).
func queryScalar[T any](ctx context.Context, db *sql.DB, query string, args ...any) (T, error) {
	var out T
	err := pgxutil.WithPgxConn(ctx, db, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, query, args...).Scan(&out)
	})
	if err != nil {
		return out, apperrors.MapDBError(err)
	}
	return out, nil
}

// execCommand runs a statement and reports how many rows it touched.
func execCommand(ctx context.Context, db *sql.DB, query string, args ...any) (int64, error) {
	var affected int64
	err := pgxutil.WithPgxConn(ctx, db, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return affected, nil
}
