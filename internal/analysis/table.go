package analysis

import (
	"strconv"
	"strings"
)

// Table is the engine's result: a small rectangular frame with string-typed
// cells. Numeric cells are pre-formatted so rendering and JSON transport see
// the same values.
type Table struct {
	Title   string     `json:"title,omitempty"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Render produces a fixed-width text layout of the table, with a row index
// column and right-aligned cells. This is the data_output string sent to
// clients.
func (t *Table) Render() string {
	if t == nil || len(t.Columns) == 0 {
		return ""
	}

	widths := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		widths[i] = len(c)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	indexWidth := len(strconv.Itoa(max(len(t.Rows)-1, 0)))

	var b strings.Builder
	if t.Title != "" {
		b.WriteString(t.Title)
		b.WriteString("\n")
	}

	b.WriteString(strings.Repeat(" ", indexWidth))
	for i, c := range t.Columns {
		b.WriteString("  ")
		b.WriteString(pad(c, widths[i]))
	}
	b.WriteString("\n")

	for r, row := range t.Rows {
		b.WriteString(pad(strconv.Itoa(r), indexWidth))
		for i := range t.Columns {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			b.WriteString("  ")
			b.WriteString(pad(cell, widths[i]))
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// Markdown renders the table as a GitHub-style markdown table, used by the
// batch runner's report files.
func (t *Table) Markdown() string {
	if t == nil || len(t.Columns) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("| " + strings.Join(t.Columns, " | ") + " |\n")

	seps := make([]string, len(t.Columns))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(seps, " | ") + " |\n")

	for _, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i := range t.Columns {
			if i < len(row) {
				cells[i] = row[i]
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

// formatValue keeps two decimal places but drops trailing zeros, so 25.00
// prints as "25" and 2.50 as "2.5".
func formatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}
