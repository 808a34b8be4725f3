package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

var (
	requiredPlanKeys = []string{"execution_plan", "tables_used", "total_steps", "has_dependencies"}
	requiredStepKeys = []string{"step", "query_id", "description", "sql", "depends_on", "table_used"}
)

// MalformedError reports a plan payload that failed structural validation.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed execution plan: " + e.Reason
}

func malformed(format string, args ...any) *MalformedError {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}

// Parse decodes an oracle payload into a validated plan. Any structural defect
// yields a *MalformedError and no plan. Parse also enforces that every
// depends_on entry names a step with a smaller step index.
func Parse(raw []byte) (*ExecutionPlan, error) {
	body := Unfence(raw)
	if len(body) == 0 {
		return nil, malformed("empty response")
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}
	for _, key := range requiredPlanKeys {
		if _, ok := top[key]; !ok {
			return nil, malformed("missing %q key", key)
		}
	}

	var rawSteps []json.RawMessage
	if err := json.Unmarshal(top["execution_plan"], &rawSteps); err != nil || rawSteps == nil {
		return nil, malformed("execution_plan must be a list")
	}
	if len(rawSteps) == 0 {
		return nil, malformed("execution_plan has no steps")
	}

	p := &ExecutionPlan{}
	if err := json.Unmarshal(top["tables_used"], &p.TablesUsed); err != nil {
		return nil, malformed("tables_used must be a list of strings")
	}
	if err := json.Unmarshal(top["has_dependencies"], &p.HasDependencies); err != nil {
		return nil, malformed("has_dependencies must be a boolean")
	}
	if _, err := positiveInt(top["total_steps"], true); err != nil {
		return nil, malformed("total_steps must be an integer")
	}
	if info, ok := top["optimization_info"]; ok && !isNull(info) {
		var oi OptimizationInfo
		if err := json.Unmarshal(info, &oi); err == nil {
			p.OptimizationInfo = &oi
		}
	}

	seen := make(map[string]int, len(rawSteps))
	for i, rs := range rawSteps {
		s, err := parseStep(i+1, rs)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[s.QueryID]; dup {
			return nil, malformed("step %d reuses query_id %q of step %d", s.Step, s.QueryID, prev)
		}
		seen[s.QueryID] = s.Step
		p.Steps = append(p.Steps, s)
	}
	p.TotalSteps = len(p.Steps)

	if err := CheckOrdering(p); err != nil {
		return nil, err
	}
	return p, nil
}

// CheckOrdering verifies that every dependency is produced by a step that runs earlier.
func CheckOrdering(p *ExecutionPlan) error {
	index := make(map[string]int, len(p.Steps))
	for _, s := range p.Steps {
		index[s.QueryID] = s.Step
	}
	for _, s := range p.Ordered() {
		for _, dep := range s.DependsOn {
			at, ok := index[dep]
			if !ok {
				return malformed("step %d depends on unknown query_id %q", s.Step, dep)
			}
			if at >= s.Step {
				return malformed("step %d depends on %q which runs at step %d; dependencies must come from earlier steps", s.Step, dep, at)
			}
		}
	}
	return nil
}

func parseStep(pos int, raw json.RawMessage) (Step, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Step{}, malformed("step %d is not an object", pos)
	}
	for _, key := range requiredStepKeys {
		if _, ok := fields[key]; !ok {
			return Step{}, malformed("step %d is missing %q key", pos, key)
		}
	}

	var s Step
	n, err := positiveInt(fields["step"], false)
	if err != nil {
		return Step{}, malformed("step %d: step must be a positive integer", pos)
	}
	s.Step = n

	if err := json.Unmarshal(fields["query_id"], &s.QueryID); err != nil || strings.TrimSpace(s.QueryID) == "" {
		return Step{}, malformed("step %d: query_id must be a non-empty string", pos)
	}
	if err := json.Unmarshal(fields["sql"], &s.SQL); err != nil || strings.TrimSpace(s.SQL) == "" {
		return Step{}, malformed("step %d: sql must be a non-empty string", pos)
	}
	if err := json.Unmarshal(fields["description"], &s.Description); err != nil {
		return Step{}, malformed("step %d: description must be a string", pos)
	}
	if !isNull(fields["depends_on"]) {
		if err := json.Unmarshal(fields["depends_on"], &s.DependsOn); err != nil {
			return Step{}, malformed("step %d: depends_on must be a list of query ids", pos)
		}
	}
	table, err := tableRef(fields["table_used"])
	if err != nil {
		return Step{}, malformed("step %d: table_used must be a string or list of strings", pos)
	}
	s.TableUsed = table
	return s, nil
}

// positiveInt accepts JSON numbers with no fractional part that fit in an int32.
func positiveInt(raw json.RawMessage, allowZero bool) (int, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < 0 || f > math.MaxInt32 || (!allowZero && f == 0) {
		return 0, fmt.Errorf("not a positive integer: %v", f)
	}
	return int(f), nil
}

func tableRef(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return one, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return "", err
	}
	return strings.Join(many, ", "), nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Unfence strips markdown code fences and any prose around the outermost JSON object.
func Unfence(raw []byte) []byte {
	body := bytes.TrimSpace(raw)
	if bytes.HasPrefix(body, []byte("```")) {
		if nl := bytes.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		body = bytes.TrimSuffix(bytes.TrimSpace(body), []byte("```"))
		body = bytes.TrimSpace(body)
	}
	start := bytes.IndexByte(body, '{')
	end := bytes.LastIndexByte(body, '}')
	if start > 0 && end > start {
		body = body[start : end+1]
	}
	return body
}
