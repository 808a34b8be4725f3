package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rahul/querypilot/internal/store"
)

// SchemaFunc supplies the current catalog; (*store.Database).Describe fits.
type SchemaFunc func(ctx context.Context) (*store.Schema, error)

// ListTablesTool lists tables with their column names.
type ListTablesTool struct {
	Schema SchemaFunc
}

func NewListTablesTool(schema SchemaFunc) *ListTablesTool {
	return &ListTablesTool{Schema: schema}
}

func (t *ListTablesTool) Name() string {
	return "list_tables"
}

func (t *ListTablesTool) Description() string {
	return "List every table in the database with its column names."
}

func (t *ListTablesTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *ListTablesTool) Execute(ctx context.Context, input string) (string, error) {
	schema, err := t.Schema(ctx)
	if err != nil {
		return "", err
	}
	if len(schema.Tables) == 0 {
		return "The database has no tables.", nil
	}
	return schema.Overview(), nil
}

// DescribeTablesTool returns column types for selected tables.
type DescribeTablesTool struct {
	Schema SchemaFunc
}

func NewDescribeTablesTool(schema SchemaFunc) *DescribeTablesTool {
	return &DescribeTablesTool{Schema: schema}
}

func (t *DescribeTablesTool) Name() string {
	return "describe_tables"
}

func (t *DescribeTablesTool) Description() string {
	return "Show column names, types and primary keys for the given tables."
}

func (t *DescribeTablesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tables": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Table names to describe",
			},
		},
		"required": []string{"tables"},
	}
}

func (t *DescribeTablesTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Tables []string `json:"tables"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	names := make([]string, 0, len(args.Tables))
	for _, n := range args.Tables {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no table names given")
	}

	schema, err := t.Schema(ctx)
	if err != nil {
		return "", err
	}
	return schema.Detail(names...), nil
}
