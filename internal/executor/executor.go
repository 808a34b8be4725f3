// Package executor runs one resolved query against the backing store.
package executor

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rahul/querypilot/internal/governance"
	"github.com/rahul/querypilot/internal/resolver"
)

// Row maps column name to value.
type Row = map[string]any

// ResultSet is the tabular output of one query. Columns preserves the store's column order.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (rs ResultSet) Len() int { return len(rs.Rows) }

// Kind classifies store execution failures.
type Kind string

const (
	KindPolicy       Kind = "policy"
	KindTimeout      Kind = "timeout"
	KindConnectivity Kind = "connectivity"
	KindSyntax       Kind = "syntax"
	KindConstraint   Kind = "constraint"
	KindUnknown      Kind = "unknown"
)

// Error is a typed store execution failure.
type Error struct {
	Kind Kind
	SQL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Executor executes resolved queries. It performs reads only.
type Executor struct {
	Policy governance.PolicyEngine
	Style  resolver.Style
}

func New(policy governance.PolicyEngine, style resolver.Style) *Executor {
	return &Executor{Policy: policy, Style: style}
}

// Execute runs q and collects every row. The query is checked against the
// policy before it reaches the store.
func (e *Executor) Execute(ctx context.Context, db Querier, q resolver.Query) (ResultSet, error) {
	text, args := q.Render(e.Style)

	if e.Policy != nil {
		res, err := e.Policy.Evaluate(ctx, governance.Request{Statement: text})
		if err != nil {
			return ResultSet{}, &Error{Kind: KindPolicy, SQL: text, Err: err}
		}
		if res.Effect == governance.EffectDeny {
			return ResultSet{}, &Error{Kind: KindPolicy, SQL: text, Err: errors.New(res.Reason)}
		}
	}

	rows, err := db.QueryContext(ctx, text, args...)
	if err != nil {
		return ResultSet{}, &Error{Kind: classify(ctx, err), SQL: text, Err: err}
	}
	defer rows.Close()

	rs, err := scan(rows)
	if err != nil {
		return ResultSet{}, &Error{Kind: classify(ctx, err), SQL: text, Err: err}
	}
	return rs, nil
}

func scan(rows *sql.Rows) (ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, err
	}

	rs := ResultSet{Columns: cols, Rows: []Row{}}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return ResultSet{}, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = normalize(vals[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}

func classify(ctx context.Context, err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.Canceled) {
		return KindConnectivity
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "constraint", "violates", "duplicate key", "foreign key"):
		return KindConstraint
	case containsAny(msg, "syntax", "no such table", "no such column", "does not exist", "parser error", "binder error", "ambiguous", "unrecognized token", "incomplete input"):
		return KindSyntax
	case containsAny(msg, "connection", "connect:", "broken pipe", "database is locked", "unable to open"):
		return KindConnectivity
	default:
		return KindUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
