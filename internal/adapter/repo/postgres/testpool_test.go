package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow implements pgx.Row for tests that only exercise QueryRow.
type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.scan == nil {
		return errors.New("no row configured")
	}
	return r.scan(dest...)
}

// fakePool implements PgxPool, stubbing Exec/QueryRow for unit tests that
// don't need a live database; Query/BeginTx paths have no tests in this
// package (compileAggregate is pure and tested directly without a pool).
type fakePool struct {
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if p.execFunc == nil {
		return pgconn.CommandTag{}, errors.New("Exec not configured")
	}
	return p.execFunc(ctx, sql, args...)
}

func (p *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if p.queryRowFunc == nil {
		return fakeRow{}
	}
	return p.queryRowFunc(ctx, sql, args...)
}

func (p *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("Query not configured in this fake")
}

func (p *fakePool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("BeginTx not configured in this fake")
}

func commandTag(rowsAffected int64) pgconn.CommandTag {
	if rowsAffected == 1 {
		return pgconn.NewCommandTag("UPDATE 1")
	}
	return pgconn.NewCommandTag("UPDATE 0")
}
