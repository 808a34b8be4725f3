// Package resolver binds {{placeholder}} tokens in SQL templates to values
// produced by earlier plan steps.
package resolver

import (
	"fmt"
	"strings"
)

// Reason classifies why a placeholder could not be bound.
type Reason string

const (
	// ReasonNoDependencyResults means none of the listed dependencies produced a result set.
	ReasonNoDependencyResults Reason = "no_dependency_results"
	// ReasonEmptyResults means the dependencies ran but returned no rows.
	ReasonEmptyResults Reason = "empty_results"
	// ReasonNoMatchingColumn means rows exist but no column supplied a value.
	ReasonNoMatchingColumn Reason = "no_matching_column"
	// ReasonNullValue means the matching scalar value was NULL.
	ReasonNullValue Reason = "null_value"
)

// UnresolvedError is returned when a placeholder cannot be bound from prior results.
type UnresolvedError struct {
	Placeholder string
	Reason      Reason
	DependsOn   []string
}

func (e *UnresolvedError) Error() string {
	deps := "none"
	if len(e.DependsOn) > 0 {
		deps = strings.Join(e.DependsOn, ", ")
	}
	switch e.Reason {
	case ReasonNoDependencyResults:
		return fmt.Sprintf("could not resolve parameter %q: no results available from dependencies (%s)", e.Placeholder, deps)
	case ReasonEmptyResults:
		return fmt.Sprintf("could not resolve parameter %q: dependent queries (%s) returned no rows", e.Placeholder, deps)
	case ReasonNullValue:
		return fmt.Sprintf("could not resolve parameter %q: dependency value is NULL", e.Placeholder)
	default:
		return fmt.Sprintf("could not resolve parameter %q: no matching column in dependencies (%s)", e.Placeholder, deps)
	}
}

// Results maps a query id to the rows that step produced.
type Results map[string][]map[string]any

// IsListName reports whether a placeholder name denotes a collection of values.
func IsListName(name string) bool {
	return strings.HasSuffix(name, "_id") || strings.HasSuffix(name, "_ids") || strings.HasSuffix(name, "s")
}

// singular guesses the column name behind a list placeholder: user_ids -> user_id, products -> product.
func singular(name string) string {
	if strings.HasSuffix(name, "_ids") {
		return strings.TrimSuffix(name, "_ids") + "_id"
	}
	if strings.HasSuffix(name, "s") {
		return strings.TrimSuffix(name, "s")
	}
	return name
}

// Resolve rewrites the template's placeholders into bound parameters using the
// results of the listed dependencies. It never executes SQL.
func Resolve(template string, results Results, dependsOn []string) (Query, error) {
	tokens := Tokenize(template)
	q := Query{Params: make(map[string]Param)}

	for _, tok := range tokens {
		if tok.Kind == TokenLiteral {
			q.segments = append(q.segments, segment{text: tok.Text})
			continue
		}
		if _, done := q.Params[tok.Name]; !done {
			p, err := resolveParam(tok.Name, results, dependsOn)
			if err != nil {
				return Query{}, err
			}
			q.Params[tok.Name] = p
			q.order = append(q.order, tok.Name)
		}
		q.segments = append(q.segments, segment{param: tok.Name})
	}
	return q, nil
}

func resolveParam(name string, results Results, dependsOn []string) (Param, error) {
	var (
		available int
		rows      int
	)
	for _, dep := range dependsOn {
		if rs, ok := results[dep]; ok {
			available++
			rows += len(rs)
		}
	}
	fail := func(r Reason) (Param, error) {
		return Param{}, &UnresolvedError{Placeholder: name, Reason: r, DependsOn: dependsOn}
	}
	if available == 0 {
		return fail(ReasonNoDependencyResults)
	}
	if rows == 0 {
		return fail(ReasonEmptyResults)
	}

	if !IsListName(name) {
		v, found := scalarValue(name, results, dependsOn)
		if !found {
			return fail(ReasonNoMatchingColumn)
		}
		if v == nil {
			return fail(ReasonNullValue)
		}
		return Param{Name: name, Value: v}, nil
	}

	values := listValues(name, results, dependsOn)
	switch len(values) {
	case 0:
		return fail(ReasonNoMatchingColumn)
	case 1:
		return Param{Name: name, Value: values[0]}, nil
	default:
		return Param{Name: name, Values: values, List: true}, nil
	}
}

// scalarValue takes the first row of the first dependency that has either an
// exact column match or a single column.
func scalarValue(name string, results Results, dependsOn []string) (any, bool) {
	for _, dep := range dependsOn {
		rows := results[dep]
		if len(rows) == 0 {
			continue
		}
		row := rows[0]
		if v, ok := row[name]; ok {
			return v, true
		}
		if len(row) == 1 {
			for _, v := range row {
				return v, true
			}
		}
	}
	return nil, false
}

// listValues gathers values across all rows of all dependencies, deduplicated
// in first-seen order. NULLs are skipped.
func listValues(name string, results Results, dependsOn []string) []any {
	guess := singular(name)
	seen := make(map[string]bool)
	var values []any

	for _, dep := range dependsOn {
		for _, row := range results[dep] {
			v, ok := pick(row, name, guess)
			if !ok || v == nil {
				continue
			}
			key := fmt.Sprintf("%T\x00%v", v, v)
			if seen[key] {
				continue
			}
			seen[key] = true
			values = append(values, v)
		}
	}
	return values
}

func pick(row map[string]any, name, guess string) (any, bool) {
	if len(row) == 1 {
		for _, v := range row {
			return v, true
		}
	}
	if v, ok := row[name]; ok {
		return v, true
	}
	if v, ok := row[guess]; ok {
		return v, true
	}
	return nil, false
}
