// Package format renders step results as aligned text tables.
package format

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/rahul/querypilot/internal/executor"
)

const columnSep = " | "

// Step renders one step's rows under a title line. Empty results render a
// single "no data" line naming the step.
func Step(step int, description string, rs executor.ResultSet) string {
	if len(rs.Rows) == 0 {
		return NoData(step, description)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Step %d - %s: (%d records)\n", step, description, len(rs.Rows))

	table, err := Table(rs)
	if err != nil {
		table = Plain(rs)
	}
	b.WriteString(table)
	return b.String()
}

// NoData is the sentinel line for a step that matched nothing.
func NoData(step int, description string) string {
	return fmt.Sprintf("Step %d (%s): No matching data found", step, description)
}

// Table renders rows left-justified to the widest header or cell of each column.
// It fails on rows that do not carry exactly the result's columns and on values
// with no textual form.
func Table(rs executor.ResultSet) (string, error) {
	cols := columns(rs)
	cells := make([][]string, len(rs.Rows))
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = runewidth.StringWidth(c)
	}

	for r, row := range rs.Rows {
		if len(row) != len(cols) {
			return "", fmt.Errorf("row %d has %d values, expected %d", r+1, len(row), len(cols))
		}
		cells[r] = make([]string, len(cols))
		for i, c := range cols {
			v, ok := row[c]
			if !ok {
				return "", fmt.Errorf("row %d is missing column %q", r+1, c)
			}
			s, err := Cell(v)
			if err != nil {
				return "", fmt.Errorf("row %d column %q: %w", r+1, c, err)
			}
			cells[r][i] = s
			if w := runewidth.StringWidth(s); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	header := joinPadded(cols, widths)
	b.WriteString(header)
	b.WriteByte('\n')
	b.WriteString(strings.Repeat("-", runewidth.StringWidth(header)))
	for _, line := range cells {
		b.WriteByte('\n')
		b.WriteString(joinPadded(line, widths))
	}
	return b.String(), nil
}

// Plain is the unaligned fallback rendering.
func Plain(rs executor.ResultSet) string {
	cols := columns(rs)
	lines := []string{strings.Join(cols, columnSep)}
	for _, row := range rs.Rows {
		var vals []string
		for _, c := range cols {
			if v, ok := row[c]; ok {
				vals = append(vals, fmt.Sprint(v))
			}
		}
		for _, extra := range sortedKeys(row) {
			if !contains(cols, extra) {
				vals = append(vals, fmt.Sprint(row[extra]))
			}
		}
		lines = append(lines, strings.Join(vals, columnSep))
	}
	return strings.Join(lines, "\n")
}

// Cell converts a scanned value to text.
func Cell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case time.Time:
		return x.Format(time.DateTime), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", fmt.Errorf("value of type %T has no text form", v)
	}
}

func joinPadded(vals []string, widths []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = runewidth.FillRight(v, widths[i])
	}
	return strings.Join(parts, columnSep)
}

func columns(rs executor.ResultSet) []string {
	if len(rs.Columns) > 0 || len(rs.Rows) == 0 {
		return rs.Columns
	}
	return sortedKeys(rs.Rows[0])
}

func sortedKeys(row executor.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
