package governance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the statement to be evaluated.
type Request struct {
	Statement string
	QueryID   string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates statements against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine allows statements that start with an allowed keyword
// and match none of the deny patterns. A PRAGMA must also name an allowed
// pragma and may not assign to it.
type DefaultPolicyEngine struct {
	AllowedLeading map[string]bool
	AllowedPragmas map[string]bool
	DeniedRegex    []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		AllowedLeading: make(map[string]bool),
		AllowedPragmas: make(map[string]bool),
		DeniedRegex:    make([]*regexp.Regexp, 0),
	}
}

// NewReadOnlyPolicy returns the policy used for plan execution: queries and
// schema introspection only.
func NewReadOnlyPolicy() *DefaultPolicyEngine {
	e := NewDefaultPolicyEngine()
	for _, kw := range []string{"SELECT", "WITH", "VALUES", "EXPLAIN", "SHOW", "DESCRIBE", "PRAGMA"} {
		e.AllowLeading(kw)
	}
	for _, p := range []string{"table_info", "table_xinfo", "table_list", "index_list", "index_info", "index_xinfo", "foreign_key_list", "database_list"} {
		e.AllowPragma(p)
	}
	_ = e.DenyPattern(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|DROP|ALTER|CREATE|TRUNCATE)\b`)
	_ = e.DenyPattern(`(?i)\b(ATTACH|DETACH|GRANT|REVOKE|VACUUM)\b`)
	return e
}

func (e *DefaultPolicyEngine) AllowPragma(name string) {
	e.AllowedPragmas[strings.ToLower(name)] = true
}

func (e *DefaultPolicyEngine) AllowLeading(keyword string) {
	e.AllowedLeading[strings.ToUpper(keyword)] = true
}

func (e *DefaultPolicyEngine) DenyPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	code := stripLiterals(req.Statement)

	if rest := strings.TrimSpace(code); strings.Contains(strings.TrimRight(rest, "; \t\n"), ";") {
		return Result{
			Effect: EffectDeny,
			Reason: "Multiple statements in one step are not allowed",
		}, nil
	}

	lead := leadingKeyword(code)
	if len(e.AllowedLeading) > 0 && !e.AllowedLeading[lead] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Statement type '%s' is restricted by system policy", lead),
		}, nil
	}

	if lead == "PRAGMA" {
		if res, ok := e.checkPragma(code); !ok {
			return res, nil
		}
	}

	for _, re := range e.DeniedRegex {
		if m := re.FindString(code); m != "" {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Statement contains restricted keyword: %s", strings.ToUpper(m)),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}

// pragmaForm matches "PRAGMA [schema.]name" followed by an optional argument list.
var pragmaForm = regexp.MustCompile(`(?is)^\s*PRAGMA\s+(?:\w+\.)?(\w+)\s*(\([^()]*\))?\s*;?\s*$`)

func (e *DefaultPolicyEngine) checkPragma(code string) (Result, bool) {
	m := pragmaForm.FindStringSubmatch(code)
	if m == nil {
		return Result{
			Effect: EffectDeny,
			Reason: "Only PRAGMA reads of the form PRAGMA name(arg) are allowed",
		}, false
	}
	if !e.AllowedPragmas[strings.ToLower(m[1])] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("PRAGMA %s is restricted by system policy", m[1]),
		}, false
	}
	return Result{}, true
}

func leadingKeyword(sql string) string {
	fields := strings.FieldsFunc(sql, func(r rune) bool {
		return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '('
	})
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// stripLiterals blanks out quoted strings and comments so keywords inside them are ignored.
func stripLiterals(sql string) string {
	var b strings.Builder
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'' || c == '"':
			j := i + 1
			for j < len(sql) {
				if sql[j] == c {
					if j+1 < len(sql) && sql[j+1] == c {
						j += 2
						continue
					}
					break
				}
				j++
			}
			b.WriteString("''")
			i = j
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 3
			}
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
