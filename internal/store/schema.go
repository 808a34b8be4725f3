package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rahul/querypilot/internal/dialect"
)

// Column is one column of a described table.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Schema is the minimal catalog handed to the planner.
type Schema struct {
	Dialect string  `json:"dialect"`
	Tables  []Table `json:"tables"`
}

// TableNames returns the table names in catalog order.
func (s *Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Table looks a table up by name, case-insensitively.
func (s *Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// Overview renders one line per table: "name(col1, col2)".
func (s *Schema) Overview() string {
	var b strings.Builder
	for _, t := range s.Tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name
		}
		fmt.Fprintf(&b, "%s(%s)\n", t.Name, strings.Join(cols, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Detail renders column types for the named tables, or for all tables when
// none are named. Unknown names are reported inline.
func (s *Schema) Detail(names ...string) string {
	tables := s.Tables
	var missing []string
	if len(names) > 0 {
		tables = nil
		for _, n := range names {
			if t, ok := s.Table(n); ok {
				tables = append(tables, t)
			} else {
				missing = append(missing, n)
			}
		}
	}

	var b strings.Builder
	for _, t := range tables {
		fmt.Fprintf(&b, "Table %s:\n", t.Name)
		for _, c := range t.Columns {
			pk := ""
			if c.PrimaryKey {
				pk = " PRIMARY KEY"
			}
			fmt.Fprintf(&b, "  - %s %s%s\n", c.Name, c.Type, pk)
		}
	}
	for _, n := range missing {
		fmt.Fprintf(&b, "Table %s: not found\n", n)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Describe reads the catalog of the user tables.
func (d *Database) Describe(ctx context.Context) (*Schema, error) {
	var (
		tables []Table
		err    error
	)
	switch d.Dialect {
	case dialect.SQLite:
		tables, err = d.describeSQLite(ctx)
	case dialect.PostgreSQL, dialect.DuckDB:
		tables, err = d.describeInformationSchema(ctx, `SELECT table_name, column_name, data_type
			FROM information_schema.columns
			WHERE table_schema = current_schema()
			ORDER BY table_name, ordinal_position`)
	default:
		return nil, fmt.Errorf("describe: unsupported dialect %q", d.Dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("describe schema: %w", err)
	}
	return &Schema{Dialect: d.Dialect, Tables: tables}, nil
}

func (d *Database) describeSQLite(ctx context.Context) ([]Table, error) {
	rows, err := d.DB.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		cols, err := d.sqliteColumns(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		tables = append(tables, Table{Name: name, Columns: cols})
	}
	return tables, nil
}

func (d *Database) sqliteColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := d.DB.QueryContext(ctx,
		`SELECT name, type, pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var pk int
		if err := rows.Scan(&c.Name, &c.Type, &pk); err != nil {
			return nil, err
		}
		c.PrimaryKey = pk > 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (d *Database) describeInformationSchema(ctx context.Context, query string) ([]Table, error) {
	rows, err := d.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := make(map[string]*Table)
	for rows.Next() {
		var table string
		var c Column
		if err := rows.Scan(&table, &c.Name, &c.Type); err != nil {
			return nil, err
		}
		t, ok := byName[table]
		if !ok {
			t = &Table{Name: table}
			byName[table] = t
		}
		t.Columns = append(t.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(byName))
	for _, t := range byName {
		tables = append(tables, *t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables, nil
}
