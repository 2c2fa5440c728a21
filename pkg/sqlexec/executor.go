// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at AquaOps (https://www.aquaops.io/).
// Copyright 2025-present AquaOps, Inc.

// Package sqlexec runs validated queries against the target database
// with an enforced deadline and returns column-aligned rows.
package sqlexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// Error kinds. Callers classify with errors.Is; the wrapped error keeps
// the driver detail.
var (
	ErrSQLTimeout = errors.New("sql timeout")
	ErrSQLSyntax  = errors.New("sql syntax error")
	ErrSQLRuntime = errors.New("sql runtime error")
)

// Result holds a query's output with column order preserved. Row values
// keep the driver's native types; JSON rendering is a separate step.
type Result struct {
	Columns []string
	Rows    [][]interface{}
}

// RowCount returns the number of returned rows.
func (r *Result) RowCount() int {
	return len(r.Rows)
}

// Execute runs sql with the given timeout. The context passed in bounds
// the overall call; the timeout bounds the query itself.
func Execute(ctx context.Context, db *sqlx.DB, sql string, timeout time.Duration) (*Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.QueryxContext(queryCtx, sql)
	if err != nil {
		return nil, classify(queryCtx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSQLRuntime, err)
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSQLRuntime, err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(queryCtx, err)
	}
	return result, nil
}

// RowMaps converts the result to one map per row, keyed by column name.
func RowMaps(r *Result) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]interface{}, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				m[col] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// FormatJSON renders row values into JSON-safe equivalents without
// mutating the result: time.Time to RFC3339, []byte to string.
func FormatJSON(r *Result) [][]interface{} {
	rows := make([][]interface{}, len(r.Rows))
	for i, row := range r.Rows {
		formatted := make([]interface{}, len(row))
		for j, v := range row {
			formatted[j] = jsonValue(v)
		}
		rows[i] = formatted
	}
	return rows
}

func jsonValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339)
	case []byte:
		return string(t)
	default:
		return v
	}
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrSQLTimeout, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 42 is syntax error or access rule violation.
		if strings.HasPrefix(pgErr.Code, "42") {
			return fmt.Errorf("%w: %v", ErrSQLSyntax, err)
		}
		// 57014 is query_canceled, raised when statement_timeout fires
		// server side.
		if pgErr.Code == "57014" {
			return fmt.Errorf("%w: %v", ErrSQLTimeout, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrSQLRuntime, err)
}
