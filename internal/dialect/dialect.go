// Package dialect rewrites non-portable SQL function calls for a target database.
package dialect

import (
	"regexp"
	"strings"
)

// Known dialect identifiers.
const (
	SQLite     = "sqlite"
	PostgreSQL = "postgresql"
	DuckDB     = "duckdb"
	MySQL      = "mysql"
)

type rule struct {
	from string
	to   string
	re   *regexp.Regexp
}

// Longer idioms come first so that YEAR(CURDATE()) is replaced before CURDATE().
var table = map[string][]rule{
	SQLite: compile([][2]string{
		{"YEAR(CURDATE())", "strftime('%Y', 'now')"},
		{"MONTH(CURDATE())", "strftime('%m', 'now')"},
		{"DATE_FORMAT(date_column, '%Y-%m')", "strftime('%Y-%m', date_column)"},
		{"CURDATE()", "date('now')"},
		{"NOW()", "datetime('now', 'localtime')"},
		{"CURRENT_DATE()", "date('now')"},
	}),
	PostgreSQL: compile([][2]string{
		{"YEAR(CURDATE())", "EXTRACT(YEAR FROM CURRENT_DATE)"},
		{"MONTH(CURDATE())", "EXTRACT(MONTH FROM CURRENT_DATE)"},
		{"CURDATE()", "CURRENT_DATE"},
		{"date('now')", "CURRENT_DATE"},
		{"datetime('now', 'localtime')", "LOCALTIMESTAMP"},
		{"strftime('%Y', 'now')", "to_char(CURRENT_DATE, 'YYYY')"},
	}),
	DuckDB: compile([][2]string{
		{"YEAR(CURDATE())", "year(current_date)"},
		{"CURDATE()", "current_date"},
		{"date('now')", "current_date"},
		{"datetime('now', 'localtime')", "now()"},
		{"strftime('%Y', 'now')", "strftime(current_date, '%Y')"},
	}),
}

func compile(pairs [][2]string) []rule {
	rules := make([]rule, len(pairs))
	for i, p := range pairs {
		rules[i] = rule{from: p[0], to: p[1], re: regexp.MustCompile("(?i)" + regexp.QuoteMeta(p[0]))}
	}
	return rules
}

// Translate replaces known idioms with their equivalents in the target dialect.
// Matching is case-insensitive and literal. Unknown dialects are returned unchanged.
func Translate(sql, target string) string {
	rules, ok := table[Normalize(target)]
	if !ok {
		return sql
	}
	for _, r := range rules {
		sql = r.re.ReplaceAllLiteralString(sql, r.to)
	}
	return sql
}

// Normalize maps common aliases onto the canonical dialect names.
func Normalize(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "postgres", "pg", "postgresql":
		return PostgreSQL
	case "sqlite3", "sqlite":
		return SQLite
	default:
		return n
	}
}

// Guidance returns the instruction the oracle is given about which SQL dialect to emit.
func Guidance(target string) string {
	switch Normalize(target) {
	case SQLite:
		return "The generated SQL must follow **SQLite** syntax. For example, use `strftime('%Y', 'now')` for the current year instead of `YEAR(CURDATE())`."
	case MySQL:
		return "The generated SQL must follow **MySQL** syntax. For example, the current date is `CURDATE()`."
	case PostgreSQL:
		return "The generated SQL must follow **PostgreSQL** syntax. For example, the current year is `EXTRACT(YEAR FROM CURRENT_DATE)`."
	case DuckDB:
		return "The generated SQL must follow **DuckDB** syntax. For example, the current year is `year(current_date)`."
	default:
		return "The generated SQL must follow **" + target + "** syntax."
	}
}
