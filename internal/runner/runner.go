// Package runner executes the steps of an execution plan in order, threading
// each step's rows into the placeholders of later steps.
package runner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rahul/querypilot/internal/dialect"
	"github.com/rahul/querypilot/internal/executor"
	"github.com/rahul/querypilot/internal/format"
	"github.com/rahul/querypilot/internal/observability"
	"github.com/rahul/querypilot/internal/plan"
	"github.com/rahul/querypilot/internal/resolver"
)

// Step statuses reported to logs and metrics.
const (
	StatusOK         = "ok"
	StatusEmpty      = "empty"
	StatusUnresolved = "unresolved"
	StatusFailed     = "failed"
)

// OutputRecord is the externally visible result of one step.
type OutputRecord struct {
	Description   string         `json:"description"`
	FormattedText string         `json:"formatted_text"`
	RawResults    []executor.Row `json:"raw_results"`
	Error         string         `json:"error,omitempty"`

	Step    int           `json:"-"`
	QueryID string        `json:"-"`
	SQL     string        `json:"-"`
	Columns []string      `json:"-"`
	Status  string        `json:"-"`
	Elapsed time.Duration `json:"-"`
	Err     error         `json:"-"`
}

// Failed reports whether the step did not produce results.
func (o OutputRecord) Failed() bool { return o.Err != nil }

// StepResultSet holds the rows of every step executed so far, by query id.
type StepResultSet map[string][]executor.Row

// Conner hands out a dedicated connection; *sql.DB satisfies it.
type Conner interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Runner drives all steps of a plan.
type Runner struct {
	Executor    *executor.Executor
	Dialect     string
	StepTimeout time.Duration
	Logger      *observability.Logger
}

func New(ex *executor.Executor, dialectName string, stepTimeout time.Duration, logger *observability.Logger) *Runner {
	return &Runner{
		Executor:    ex,
		Dialect:     dialectName,
		StepTimeout: stepTimeout,
		Logger:      logger,
	}
}

// Run acquires one connection for the whole plan and releases it before returning.
func (r *Runner) Run(ctx context.Context, db Conner, p *plan.ExecutionPlan) []OutputRecord {
	conn, err := db.Conn(ctx)
	if err != nil {
		return []OutputRecord{{
			Description:   "Database Connection Error",
			FormattedText: fmt.Sprintf("Error: %v", err),
			RawResults:    []executor.Row{},
			Error:         err.Error(),
			Status:        StatusFailed,
			Err:           &executor.Error{Kind: executor.KindConnectivity, Err: err},
		}}
	}
	defer conn.Close()

	return r.RunOn(ctx, conn, p)
}

// RunOn executes the plan's steps in ascending step order on q. A failing
// step is recorded and the run continues; every step yields one record.
func (r *Runner) RunOn(ctx context.Context, q executor.Querier, p *plan.ExecutionPlan) []OutputRecord {
	results := make(StepResultSet)
	outputs := make([]OutputRecord, 0, len(p.Steps))

	ordered := p.Ordered()
	for i, step := range ordered {
		observability.SetProgress(i+1, len(ordered))
		start := time.Now()
		out := r.runStep(ctx, q, step, results)
		out.Elapsed = time.Since(start)

		r.Logger.LogStep(ctx, step.Step, step.QueryID, out.Status, len(out.RawResults), out.Elapsed, out.Error)
		observability.RecordStep(out.Status, out.Elapsed)
		outputs = append(outputs, out)
	}
	return outputs
}

func (r *Runner) runStep(ctx context.Context, q executor.Querier, step plan.Step, results StepResultSet) OutputRecord {
	description := step.Description
	if description == "" {
		description = fmt.Sprintf("Executing query %d", step.Step)
	}
	out := OutputRecord{
		Description: description,
		RawResults:  []executor.Row{},
		Step:        step.Step,
		QueryID:     step.QueryID,
	}

	query, err := resolver.Resolve(step.SQL, resolver.Results(results), step.DependsOn)
	if err != nil {
		out.Status = StatusUnresolved
		out.Err = err
		out.Error = "Dependency resolution failed: " + err.Error()
		out.FormattedText = fmt.Sprintf("Step %d (%s): Execution failed because a dependency could not be resolved: %v", step.Step, description, err)
		return out
	}
	query = query.MapText(func(text string) string { return dialect.Translate(text, r.Dialect) })
	out.SQL = query.SQL()

	stepCtx := ctx
	if r.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, r.StepTimeout)
		defer cancel()
	}

	rs, err := r.Executor.Execute(stepCtx, q, query)
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		out.Error = err.Error()
		var ee *executor.Error
		if errors.As(err, &ee) && ee.Kind == executor.KindTimeout {
			out.Error = fmt.Sprintf("timeout error: step exceeded %s", r.StepTimeout)
		}
		out.FormattedText = fmt.Sprintf("Step %d failed to execute: %s\nSQL: %s", step.Step, out.Error, out.SQL)
		return out
	}

	results[step.QueryID] = rs.Rows
	out.Columns = rs.Columns
	out.RawResults = rs.Rows
	out.FormattedText = format.Step(step.Step, description, rs)
	out.Status = StatusOK
	if rs.Len() == 0 {
		out.Status = StatusEmpty
	}
	return out
}
