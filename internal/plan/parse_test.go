package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlan = `{
  "execution_plan": [
    {"step": 1, "query_id": "find_top_dept", "description": "Top department", "sql": "SELECT department_id FROM departments LIMIT 1", "depends_on": [], "table_used": "departments"},
    {"step": 2, "query_id": "dept_employees", "description": "Employees", "sql": "SELECT * FROM employees WHERE department_id = {{department_id}}", "depends_on": ["find_top_dept"], "table_used": "employees"}
  ],
  "tables_used": ["departments", "employees"],
  "total_steps": 2,
  "has_dependencies": true
}`

func TestParse_Valid(t *testing.T) {
	p, err := Parse([]byte(validPlan))
	require.NoError(t, err)

	require.Len(t, p.Steps, 2)
	assert.Equal(t, "find_top_dept", p.Steps[0].QueryID)
	assert.Equal(t, []string{"find_top_dept"}, p.Steps[1].DependsOn)
	assert.Equal(t, 2, p.TotalSteps)
	assert.True(t, p.HasDependencies)
	assert.Equal(t, "departments, employees", p.FormattedTables())
}

func TestParse_CodeFence(t *testing.T) {
	p, err := Parse([]byte("Here is the plan:\n```json\n" + validPlan + "\n```"))
	require.NoError(t, err)
	assert.Len(t, p.Steps, 2)
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `this is not json`,
		"missing key":      `{"execution_plan": [], "tables_used": [], "total_steps": 0}`,
		"plan not list":    `{"execution_plan": {"step": 1}, "tables_used": [], "total_steps": 1, "has_dependencies": false}`,
		"empty plan":       `{"execution_plan": [], "tables_used": [], "total_steps": 0, "has_dependencies": false}`,
		"step missing sql": `{"execution_plan": [{"step": 1, "query_id": "a", "description": "", "depends_on": [], "table_used": "t"}], "tables_used": [], "total_steps": 1, "has_dependencies": false}`,
		"fractional step":  `{"execution_plan": [{"step": 1.5, "query_id": "a", "description": "", "sql": "SELECT 1", "depends_on": [], "table_used": "t"}], "tables_used": [], "total_steps": 1, "has_dependencies": false}`,
		"step out of range": `{"execution_plan": [
			{"step": 1e19, "query_id": "a", "description": "", "sql": "SELECT 1", "depends_on": [], "table_used": "t"},
			{"step": 2, "query_id": "b", "description": "", "sql": "SELECT 2", "depends_on": [], "table_used": "t"}
		], "tables_used": [], "total_steps": 2, "has_dependencies": false}`,
		"total_steps out of range": `{"execution_plan": [{"step": 1, "query_id": "a", "description": "", "sql": "SELECT 1", "depends_on": [], "table_used": "t"}], "tables_used": [], "total_steps": 1e300, "has_dependencies": false}`,
		"duplicate id": `{"execution_plan": [
			{"step": 1, "query_id": "a", "description": "", "sql": "SELECT 1", "depends_on": [], "table_used": "t"},
			{"step": 2, "query_id": "a", "description": "", "sql": "SELECT 2", "depends_on": [], "table_used": "t"}
		], "tables_used": [], "total_steps": 2, "has_dependencies": false}`,
		"inverted dependency": `{"execution_plan": [
			{"step": 1, "query_id": "a", "description": "", "sql": "SELECT {{x}}", "depends_on": ["b"], "table_used": "t"},
			{"step": 2, "query_id": "b", "description": "", "sql": "SELECT 1 AS x", "depends_on": [], "table_used": "t"}
		], "tables_used": [], "total_steps": 2, "has_dependencies": true}`,
		"unknown dependency": `{"execution_plan": [
			{"step": 1, "query_id": "a", "description": "", "sql": "SELECT {{x}}", "depends_on": ["ghost"], "table_used": "t"}
		], "tables_used": [], "total_steps": 1, "has_dependencies": true}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := Parse([]byte(body))
			require.Error(t, err)
			assert.Nil(t, p)

			var me *MalformedError
			assert.True(t, errors.As(err, &me), "expected *MalformedError, got %T", err)
		})
	}
}

func TestParse_LenientFields(t *testing.T) {
	body := `{"execution_plan": [
		{"step": 1, "query_id": "a", "description": "both", "sql": "SELECT 1", "depends_on": null, "table_used": ["orders", "items"]}
	], "tables_used": ["orders"], "total_steps": 7, "has_dependencies": false}`

	p, err := Parse([]byte(body))
	require.NoError(t, err)
	assert.Empty(t, p.Steps[0].DependsOn)
	assert.Equal(t, "orders, items", p.Steps[0].TableUsed)
	assert.Equal(t, 1, p.TotalSteps)
}

func TestDependencySummary(t *testing.T) {
	p, err := Parse([]byte(validPlan))
	require.NoError(t, err)

	assert.Equal(t, "Step 1: Independent query\nStep 2: Depends on find_top_dept, binds {{department_id}}", p.DependencySummary())
	assert.Equal(t, "1. SELECT department_id FROM departments LIMIT 1\n2. SELECT * FROM employees WHERE department_id = {{department_id}}", p.FormattedSQL())
}

func TestDependencySummary_PlaceholderWithoutDependency(t *testing.T) {
	p, err := New(
		Step{Step: 1, QueryID: "a", SQL: "SELECT id FROM t"},
		Step{Step: 2, QueryID: "b", SQL: "SELECT * FROM u WHERE id IN ({{ids}}) AND k = {{key}} OR j = {{ids}}"},
	)
	require.NoError(t, err)
	assert.False(t, p.HasDependencies)
	assert.Equal(t, "Step 1: Independent query\nStep 2: Independent query, but uses {{ids}}, {{key}} which no earlier step supplies", p.DependencySummary())

	independent, err := New(Step{Step: 1, QueryID: "a", SQL: "SELECT 1"})
	require.NoError(t, err)
	assert.Equal(t, "No dependencies between queries", independent.DependencySummary())
}

func TestNew_OrderedKeepsStepOrder(t *testing.T) {
	p, err := New(
		Step{Step: 3, QueryID: "c", SQL: "SELECT 3"},
		Step{Step: 1, QueryID: "a", SQL: "SELECT 1", DependsOn: []string{"c"}},
		Step{Step: 2, QueryID: "b", SQL: "SELECT 2"},
	)
	require.NoError(t, err)

	var ids []string
	for _, s := range p.Ordered() {
		ids = append(ids, s.QueryID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.True(t, p.HasDependencies)

	_, err = New(Step{Step: 1, QueryID: "a"}, Step{Step: 2, QueryID: "a"})
	assert.Error(t, err)
}
