package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubRow struct {
	vals []any
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assignAll(dest, r.vals)
}

func assignAll(dest, vals []any) error {
	for i := range dest {
		if i >= len(vals) || vals[i] == nil {
			continue
		}
		dv := reflect.ValueOf(dest[i]).Elem()
		vv := reflect.ValueOf(vals[i])
		switch {
		case vv.Type().AssignableTo(dv.Type()):
			dv.Set(vv)
		case vv.Type().ConvertibleTo(dv.Type()):
			dv.Set(vv.Convert(dv.Type()))
		case dv.Kind() == reflect.Pointer && vv.Type().ConvertibleTo(dv.Type().Elem()):
			p := reflect.New(dv.Type().Elem())
			p.Elem().Set(vv.Convert(dv.Type().Elem()))
			dv.Set(p)
		default:
			return fmt.Errorf("cannot scan %T into %T", vals[i], dest[i])
		}
	}
	return nil
}

type stubRows struct {
	data [][]any
	pos  int
	err  error
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return r.err }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	return assignAll(dest, r.data[r.pos-1])
}

type execCall struct {
	sql  string
	args []any
}

// txStub serves QueryRow results in order and records Exec calls.
type txStub struct {
	rows       []pgx.Row
	execErrAt  int
	execCalls  []execCall
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *txStub) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *txStub) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}
func (t *txStub) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (t *txStub) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *txStub) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *txStub) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *txStub) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *txStub) Conn() *pgx.Conn { return nil }

func (t *txStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execCalls = append(t.execCalls, execCall{sql: sql, args: args})
	if t.execErrAt > 0 && len(t.execCalls) == t.execErrAt {
		return pgconn.CommandTag{}, errors.New("exec failed")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *txStub) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &stubRows{}, nil
}

func (t *txStub) QueryRow(context.Context, string, ...any) pgx.Row {
	if len(t.rows) == 0 {
		return stubRow{err: errors.New("row not mocked")}
	}
	row := t.rows[0]
	t.rows = t.rows[1:]
	return row
}

// dbStub implements DB.
type dbStub struct {
	tx        *txStub
	beginErr  error
	row       pgx.Row
	rows      *stubRows
	queryErr  error
	execTag   pgconn.CommandTag
	execErr   error
	lastQuery string
	lastArgs  []any
}

func (d *dbStub) Begin(context.Context) (pgx.Tx, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	return d.tx, nil
}

func (d *dbStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.lastQuery, d.lastArgs = sql, args
	return d.execTag, d.execErr
}

func (d *dbStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.lastQuery, d.lastArgs = sql, args
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	if d.rows == nil {
		return &stubRows{}, nil
	}
	return d.rows, nil
}

func (d *dbStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	d.lastQuery, d.lastArgs = sql, args
	if d.row == nil {
		return stubRow{err: pgx.ErrNoRows}
	}
	return d.row
}
