package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rahul/querypilot/internal/resolver"
)

// Step is one templated query of an execution plan.
type Step struct {
	Step        int      `json:"step"`
	QueryID     string   `json:"query_id"`
	Description string   `json:"description"`
	SQL         string   `json:"sql"`
	DependsOn   []string `json:"depends_on"`
	TableUsed   string   `json:"table_used"`
}

// OptimizationInfo records how the schema given to the oracle was narrowed.
type OptimizationInfo struct {
	TablesSelected    []string `json:"tables_selected,omitempty"`
	OptimizationRatio string   `json:"optimization_ratio,omitempty"`
}

// ExecutionPlan is an ordered sequence of query steps with inter-step data dependencies.
type ExecutionPlan struct {
	Steps            []Step            `json:"execution_plan"`
	TablesUsed       []string          `json:"tables_used"`
	TotalSteps       int               `json:"total_steps"`
	HasDependencies  bool              `json:"has_dependencies"`
	OptimizationInfo *OptimizationInfo `json:"optimization_info,omitempty"`
}

// New builds a plan from steps without the ordering precondition enforced by Parse.
// Query ids must still be unique.
func New(steps ...Step) (*ExecutionPlan, error) {
	seen := make(map[string]bool, len(steps))
	tables := make([]string, 0, len(steps))
	hasDeps := false
	for _, s := range steps {
		if seen[s.QueryID] {
			return nil, fmt.Errorf("duplicate query_id %q", s.QueryID)
		}
		seen[s.QueryID] = true
		if len(s.DependsOn) > 0 {
			hasDeps = true
		}
		if s.TableUsed != "" && !contains(tables, s.TableUsed) {
			tables = append(tables, s.TableUsed)
		}
	}
	return &ExecutionPlan{
		Steps:           steps,
		TablesUsed:      tables,
		TotalSteps:      len(steps),
		HasDependencies: hasDeps,
	}, nil
}

// Ordered returns the steps sorted by ascending step index. Ties keep their declared order.
func (p *ExecutionPlan) Ordered() []Step {
	out := make([]Step, len(p.Steps))
	copy(out, p.Steps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out
}

// SQLList returns each step's SQL in execution order.
func (p *ExecutionPlan) SQLList() []string {
	steps := p.Ordered()
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.SQL
	}
	return out
}

// FormattedSQL numbers the plan's statements one per line, the way the validator reads them.
func (p *ExecutionPlan) FormattedSQL() string {
	var b strings.Builder
	for i, q := range p.SQLList() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, q)
	}
	return b.String()
}

// FormattedTables joins the tables the plan touches.
func (p *ExecutionPlan) FormattedTables() string {
	return strings.Join(p.TablesUsed, ", ")
}

// DependencySummary describes which steps consume earlier results and the
// placeholders they bind. A placeholder in a step with no depends_on can never
// resolve, so it is called out for the validator.
func (p *ExecutionPlan) DependencySummary() string {
	ordered := p.Ordered()
	uses := make([][]string, len(ordered))
	anyPlaceholder := false
	for i, s := range ordered {
		uses[i] = resolver.Placeholders(s.SQL)
		anyPlaceholder = anyPlaceholder || len(uses[i]) > 0
	}
	if !p.HasDependencies && !anyPlaceholder {
		return "No dependencies between queries"
	}

	var b strings.Builder
	for i, s := range ordered {
		switch {
		case len(s.DependsOn) > 0 && len(uses[i]) > 0:
			fmt.Fprintf(&b, "Step %d: Depends on %s, binds %s\n", s.Step, strings.Join(s.DependsOn, ", "), braced(uses[i]))
		case len(s.DependsOn) > 0:
			fmt.Fprintf(&b, "Step %d: Depends on %s\n", s.Step, strings.Join(s.DependsOn, ", "))
		case len(uses[i]) > 0:
			fmt.Fprintf(&b, "Step %d: Independent query, but uses %s which no earlier step supplies\n", s.Step, braced(uses[i]))
		default:
			fmt.Fprintf(&b, "Step %d: Independent query\n", s.Step)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func braced(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "{{" + n + "}}"
	}
	return strings.Join(out, ", ")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
