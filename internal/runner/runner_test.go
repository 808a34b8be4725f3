package runner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/querypilot/internal/executor"
	"github.com/rahul/querypilot/internal/governance"
	"github.com/rahul/querypilot/internal/observability"
	"github.com/rahul/querypilot/internal/plan"
	"github.com/rahul/querypilot/internal/resolver"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE departments (department_id INTEGER PRIMARY KEY, name TEXT, budget INTEGER);
		CREATE TABLE employees (id INTEGER PRIMARY KEY, name TEXT, department_id INTEGER, salary INTEGER);
		INSERT INTO departments VALUES (7, 'Research', 900), (8, 'Sales', 300), (9, 'Support', 100);
		INSERT INTO employees VALUES
			(1, 'Ada', 7, 120), (2, 'Linus', 7, 110), (3, 'Grace', 8, 95), (4, 'Ken', 9, 80);
	`)
	require.NoError(t, err)
	return db
}

func newRunner() *Runner {
	ex := executor.New(governance.NewReadOnlyPolicy(), resolver.StyleNamed)
	return New(ex, "sqlite", 5*time.Second, observability.Discard())
}

func mustPlan(t *testing.T, steps ...plan.Step) *plan.ExecutionPlan {
	t.Helper()
	p, err := plan.New(steps...)
	require.NoError(t, err)
	return p
}

func TestRun_StepOrderIsAuthoritative(t *testing.T) {
	db := openTestDB(t)
	p := mustPlan(t,
		plan.Step{Step: 3, QueryID: "third", Description: "third", SQL: "SELECT 3 AS n", DependsOn: []string{"first"}},
		plan.Step{Step: 1, QueryID: "first", Description: "first", SQL: "SELECT 1 AS n", DependsOn: []string{"third"}},
		plan.Step{Step: 2, QueryID: "second", Description: "second", SQL: "SELECT 2 AS n"},
	)

	outputs := newRunner().Run(context.Background(), db, p)
	require.Len(t, outputs, 3)

	for i, want := range []string{"first", "second", "third"} {
		assert.Equal(t, want, outputs[i].Description)
		assert.Equal(t, i+1, outputs[i].Step)
		require.NoError(t, outputs[i].Err)
		assert.EqualValues(t, i+1, outputs[i].RawResults[0]["n"])
	}
}

func TestRun_ScalarDependency(t *testing.T) {
	db := openTestDB(t)
	p := mustPlan(t,
		plan.Step{Step: 1, QueryID: "find_top_dept", Description: "Top department by budget",
			SQL: "SELECT department_id FROM departments ORDER BY budget DESC LIMIT 1"},
		plan.Step{Step: 2, QueryID: "dept_employees", Description: "Employees of top department",
			SQL: "SELECT name FROM employees WHERE department_id = {{department_id}} ORDER BY name", DependsOn: []string{"find_top_dept"}},
	)

	outputs := newRunner().Run(context.Background(), db, p)
	require.Len(t, outputs, 2)
	require.NoError(t, outputs[1].Err)

	assert.Equal(t, "SELECT name FROM employees WHERE department_id = :department_id ORDER BY name", outputs[1].SQL)
	require.Len(t, outputs[1].RawResults, 2)
	assert.Equal(t, "Ada", outputs[1].RawResults[0]["name"])
	assert.True(t, strings.HasPrefix(outputs[1].FormattedText, "Step 2 - Employees of top department: (2 records)"))
}

func TestRun_ListDependency(t *testing.T) {
	db := openTestDB(t)
	p := mustPlan(t,
		plan.Step{Step: 1, QueryID: "rich_depts", Description: "Departments over 200",
			SQL: "SELECT department_id FROM departments WHERE budget > 200"},
		plan.Step{Step: 2, QueryID: "staff", Description: "Staff of those departments",
			SQL: "SELECT COUNT(*) AS headcount FROM employees WHERE department_id IN ({{department_ids}})", DependsOn: []string{"rich_depts"}},
	)

	outputs := newRunner().Run(context.Background(), db, p)
	require.NoError(t, outputs[1].Err)
	assert.EqualValues(t, 3, outputs[1].RawResults[0]["headcount"])
}

func TestRun_UnresolvedStepDoesNotHaltRun(t *testing.T) {
	db := openTestDB(t)
	p := mustPlan(t,
		plan.Step{Step: 1, QueryID: "broken", Description: "Needs a missing value",
			SQL: "SELECT * FROM employees WHERE name = {{missing_field}}"},
		plan.Step{Step: 2, QueryID: "count", Description: "Employee count",
			SQL: "SELECT COUNT(*) AS n FROM employees"},
	)

	outputs := newRunner().Run(context.Background(), db, p)
	require.Len(t, outputs, 2)

	failed := outputs[0]
	var ue *resolver.UnresolvedError
	require.True(t, errors.As(failed.Err, &ue))
	assert.Equal(t, StatusUnresolved, failed.Status)
	assert.Empty(t, failed.RawResults)
	assert.NotEmpty(t, failed.Error)
	assert.Contains(t, failed.FormattedText, "Step 1 (Needs a missing value)")

	require.NoError(t, outputs[1].Err)
	assert.EqualValues(t, 4, outputs[1].RawResults[0]["n"])
}

func TestRun_FailedStepIsNotRecordedForDependents(t *testing.T) {
	db := openTestDB(t)
	p := mustPlan(t,
		plan.Step{Step: 1, QueryID: "bad", Description: "Bad query", SQL: "SELECT department_id FROM nowhere"},
		plan.Step{Step: 2, QueryID: "dependent", Description: "Uses bad",
			SQL: "SELECT * FROM employees WHERE department_id = {{department_id}}", DependsOn: []string{"bad"}},
	)

	outputs := newRunner().Run(context.Background(), db, p)
	require.Len(t, outputs, 2)

	var ee *executor.Error
	require.True(t, errors.As(outputs[0].Err, &ee))
	assert.Equal(t, executor.KindSyntax, ee.Kind)
	assert.Contains(t, outputs[0].FormattedText, "Step 1 failed to execute")
	assert.Contains(t, outputs[0].FormattedText, "SQL: SELECT department_id FROM nowhere")

	var ue *resolver.UnresolvedError
	require.True(t, errors.As(outputs[1].Err, &ue))
	assert.Equal(t, resolver.ReasonNoDependencyResults, ue.Reason)
}

func TestRun_EmptyResultStillFeedsDependents(t *testing.T) {
	db := openTestDB(t)
	p := mustPlan(t,
		plan.Step{Step: 1, QueryID: "none", Description: "No rich departments", SQL: "SELECT department_id FROM departments WHERE budget > 10000"},
		plan.Step{Step: 2, QueryID: "dependent", Description: "Their staff",
			SQL: "SELECT * FROM employees WHERE department_id IN ({{department_ids}})", DependsOn: []string{"none"}},
	)

	outputs := newRunner().Run(context.Background(), db, p)
	assert.NoError(t, outputs[0].Err)
	assert.Equal(t, StatusEmpty, outputs[0].Status)
	assert.Equal(t, "Step 1 (No rich departments): No matching data found", outputs[0].FormattedText)

	var ue *resolver.UnresolvedError
	require.True(t, errors.As(outputs[1].Err, &ue))
	assert.Equal(t, resolver.ReasonEmptyResults, ue.Reason)
}

func TestRun_TranslatesDialect(t *testing.T) {
	db := openTestDB(t)
	p := mustPlan(t, plan.Step{Step: 1, QueryID: "year", Description: "Current year", SQL: "SELECT YEAR(CURDATE()) AS y"})

	outputs := newRunner().Run(context.Background(), db, p)
	require.NoError(t, outputs[0].Err)
	assert.Equal(t, "SELECT strftime('%Y', 'now') AS y", outputs[0].SQL)
	assert.Equal(t, time.Now().UTC().Format("2006"), outputs[0].RawResults[0]["y"])
}

func TestRun_ReleasesConnection(t *testing.T) {
	db := openTestDB(t)
	p := mustPlan(t, plan.Step{Step: 1, QueryID: "a", Description: "a", SQL: "SELECT 1"})

	newRunner().Run(context.Background(), db, p)
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestRun_ConnectionError(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())
	p := mustPlan(t, plan.Step{Step: 1, QueryID: "a", Description: "a", SQL: "SELECT 1"})

	outputs := newRunner().Run(context.Background(), db, p)
	require.Len(t, outputs, 1)
	assert.Equal(t, "Database Connection Error", outputs[0].Description)
	assert.True(t, outputs[0].Failed())
}

func TestOutputRecord_WireShape(t *testing.T) {
	rec := OutputRecord{
		Description:   "d",
		FormattedText: "f",
		RawResults:    []executor.Row{},
		Step:          1,
		Err:           errors.New("hidden"),
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"description":"d","formatted_text":"f","raw_results":[]}`, string(data))
}
