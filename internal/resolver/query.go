package resolver

import (
	"database/sql"
	"fmt"
	"strings"
)

// Style selects how bound parameters are written into the SQL text.
type Style int

const (
	// StyleNamed writes :name markers and binds sql.Named arguments (SQLite).
	StyleNamed Style = iota
	// StyleDollar writes $1, $2 ... markers (PostgreSQL).
	StyleDollar
	// StyleQuestion writes one ? per occurrence (DuckDB).
	StyleQuestion
)

// Param is a bound value for one placeholder.
type Param struct {
	Name  string
	Value any
	// Values holds the deduplicated collection when List is set.
	Values []any
	List   bool
}

// Elements returns the values the parameter expands to.
func (p Param) Elements() []any {
	if p.List {
		return p.Values
	}
	return []any{p.Value}
}

type segment struct {
	text  string
	param string
}

// Query is a resolved template: literal SQL interleaved with parameter references.
type Query struct {
	segments []segment
	order    []string
	Params   map[string]Param
}

// Literal wraps SQL that has no placeholders.
func Literal(text string) Query {
	return Query{segments: []segment{{text: text}}, Params: map[string]Param{}}
}

// ParamNames lists the bound parameters in order of first appearance.
func (q Query) ParamNames() []string {
	return append([]string(nil), q.order...)
}

// Values returns the parameter-name to value mapping. List parameters map to []any.
func (q Query) Values() map[string]any {
	out := make(map[string]any, len(q.Params))
	for name, p := range q.Params {
		if p.List {
			out[name] = p.Values
		} else {
			out[name] = p.Value
		}
	}
	return out
}

// MapText applies fn to every literal segment, leaving parameter markers untouched.
func (q Query) MapText(fn func(string) string) Query {
	out := Query{order: q.order, Params: q.Params, segments: make([]segment, len(q.segments))}
	for i, s := range q.segments {
		if s.param == "" {
			s.text = fn(s.text)
		}
		out.segments[i] = s
	}
	return out
}

// SQL renders the query with named markers, for display and logging.
func (q Query) SQL() string {
	text, _ := q.Render(StyleNamed)
	return text
}

// Render writes the SQL in the given placeholder style and returns the
// positional or named arguments to pass alongside it.
func (q Query) Render(style Style) (string, []any) {
	var (
		b       strings.Builder
		args    []any
		ordinal = make(map[string]int)
		named   = make(map[string]bool)
	)

	for _, s := range q.segments {
		if s.param == "" {
			b.WriteString(s.text)
			continue
		}
		p := q.Params[s.param]
		elems := p.Elements()
		for i, v := range elems {
			if i > 0 {
				b.WriteString(", ")
			}
			marker := p.Name
			if p.List {
				marker = fmt.Sprintf("%s_%d", p.Name, i+1)
			}
			switch style {
			case StyleDollar:
				n, ok := ordinal[marker]
				if !ok {
					args = append(args, v)
					n = len(args)
					ordinal[marker] = n
				}
				fmt.Fprintf(&b, "$%d", n)
			case StyleQuestion:
				args = append(args, v)
				b.WriteByte('?')
			default:
				if !named[marker] {
					named[marker] = true
					args = append(args, sql.Named(marker, v))
				}
				b.WriteString(":" + marker)
			}
		}
	}
	return b.String(), args
}
