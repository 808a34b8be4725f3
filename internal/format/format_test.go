package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/querypilot/internal/executor"
)

func TestTable_Alignment(t *testing.T) {
	rs := executor.ResultSet{
		Columns: []string{"name", "qty"},
		Rows: []executor.Row{
			{"name": "A", "qty": 10},
			{"name": "BB", "qty": 5},
		},
	}

	out, err := Table(rs)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "name | qty", lines[0])
	assert.Equal(t, "---------", lines[1])
	assert.Equal(t, "A    | 10 ", lines[2])
	assert.Equal(t, "BB   | 5  ", lines[3])
}

func TestTable_WideCells(t *testing.T) {
	rs := executor.ResultSet{
		Columns: []string{"city", "n"},
		Rows: []executor.Row{
			{"city": "東京", "n": int64(1)},
			{"city": "Oslo", "n": nil},
		},
	}

	out, err := Table(rs)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "city | n   ", lines[0])
	assert.Equal(t, "東京 | 1   ", lines[2])
	assert.Equal(t, "Oslo | NULL", lines[3])
}

func TestStep_Title(t *testing.T) {
	rs := executor.ResultSet{
		Columns: []string{"total"},
		Rows:    []executor.Row{{"total": 12.5}},
	}

	out := Step(2, "Sum of sales", rs)
	assert.True(t, strings.HasPrefix(out, "Step 2 - Sum of sales: (1 records)\n"))
	assert.Contains(t, out, "12.5")
}

func TestStep_NoData(t *testing.T) {
	out := Step(3, "Late orders", executor.ResultSet{Columns: []string{"id"}})
	assert.Equal(t, "Step 3 (Late orders): No matching data found", out)
}

func TestStep_FallbackOnNonUniformRows(t *testing.T) {
	rs := executor.ResultSet{
		Columns: []string{"a", "b"},
		Rows: []executor.Row{
			{"a": 1, "b": 2},
			{"a": 3},
		},
	}

	_, err := Table(rs)
	require.Error(t, err)

	out := Step(1, "Mixed", rs)
	assert.Equal(t, "Step 1 - Mixed: (2 records)\na | b\n1 | 2\n3", out)
}

func TestStep_FallbackOnUnrenderableValue(t *testing.T) {
	rs := executor.ResultSet{
		Columns: []string{"tags"},
		Rows:    []executor.Row{{"tags": []string{"x", "y"}}},
	}

	_, err := Table(rs)
	require.Error(t, err)
	assert.Equal(t, "Step 1 - Tags: (1 records)\ntags\n[x y]", Step(1, "Tags", rs))
}

func TestCell(t *testing.T) {
	for in, want := range map[any]string{
		nil:         "NULL",
		"x":         "x",
		true:        "true",
		int64(-4):   "-4",
		float64(2):  "2",
		uint8(7):    "7",
		float32(.5): "0.5",
	} {
		got, err := Cell(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
