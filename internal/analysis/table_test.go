package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableRender(t *testing.T) {
	table := &Table{
		Columns: []string{"Brand", "Average"},
		Rows: [][]string{
			{"Alpha", "15"},
			{"Beta", "16.5"},
		},
	}

	out := table.Render()
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)

	assert.Contains(t, lines[0], "Brand")
	assert.Contains(t, lines[0], "Average")
	assert.Contains(t, lines[1], "0")
	assert.Contains(t, lines[1], "Alpha")
	assert.Contains(t, lines[2], "16.5")

	// Columns line up: every line has the same width.
	assert.Equal(t, len(lines[1]), len(lines[2]))
}

func TestTableRenderTitle(t *testing.T) {
	table := &Table{
		Title:   "Brand Power H1'25",
		Columns: []string{"Brand"},
		Rows:    [][]string{{"Alpha"}},
	}
	assert.True(t, strings.HasPrefix(table.Render(), "Brand Power H1'25\n"))
}

func TestTableRenderEmpty(t *testing.T) {
	assert.Equal(t, "", (*Table)(nil).Render())
	assert.Equal(t, "", (&Table{}).Render())
}

func TestTableMarkdown(t *testing.T) {
	table := &Table{
		Columns: []string{"Brand", "Average"},
		Rows:    [][]string{{"Alpha", "15"}},
	}

	md := table.Markdown()
	lines := strings.Split(md, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "| Brand | Average |", lines[0])
	assert.Equal(t, "| --- | --- |", lines[1])
	assert.Equal(t, "| Alpha | 15 |", lines[2])
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "25", formatValue(25.0))
	assert.Equal(t, "2.5", formatValue(2.5))
	assert.Equal(t, "12.33", formatValue(12.333333))
	assert.Equal(t, "-4", formatValue(-4.0))
	assert.Equal(t, "0", formatValue(0))
	assert.Equal(t, "0", formatValue(-0.001))
}
