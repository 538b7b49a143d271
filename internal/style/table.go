package style

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Align is the horizontal alignment of a column.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

// Column describes one table column. Cells wider than Width are truncated
// with "...".
type Column struct {
	Name  string
	Width int
	Align Align
}

// Table renders fixed-width rows for terminal listings. Cell values may
// already carry styles; widths are measured on the visible text.
type Table struct {
	columns   []Column
	rows      [][]string
	indent    string
	headerSep bool
}

// NewTable creates a table with a header separator and a two-space indent.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:   columns,
		indent:    "  ",
		headerSep: true,
	}
}

// SetIndent sets the prefix of every rendered line.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator toggles the rule under the header.
func (t *Table) SetHeaderSeparator(on bool) *Table {
	t.headerSep = on
	return t
}

// AddRow appends a row. Missing cells are empty; extra cells are dropped.
func (t *Table) AddRow(values ...string) *Table {
	row := make([]string, len(t.columns))
	copy(row, values)
	t.rows = append(t.rows, row)
	return t
}

// Render returns the table as newline-terminated lines.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}

	var sb strings.Builder
	header := make([]string, len(t.columns))
	total := 0
	for i, col := range t.columns {
		header[i] = t.pad(Bold.Render(col.Name), col.Name, col.Width, col.Align)
		total += col.Width
	}
	total += len(t.columns) - 1
	t.writeLine(&sb, header)

	if t.headerSep {
		sb.WriteString(t.indent)
		sb.WriteString(Dim.Render(strings.Repeat("─", total)))
		sb.WriteString("\n")
	}

	for _, row := range t.rows {
		cells := make([]string, len(t.columns))
		for i, col := range t.columns {
			cell := row[i]
			if ansi.StringWidth(cell) > col.Width {
				cell = ansi.Truncate(cell, col.Width, "...")
			}
			cells[i] = t.pad(cell, stripAnsi(cell), col.Width, col.Align)
		}
		t.writeLine(&sb, cells)
	}
	return sb.String()
}

func (t *Table) writeLine(sb *strings.Builder, cells []string) {
	sb.WriteString(t.indent)
	sb.WriteString(strings.TrimRight(strings.Join(cells, " "), " "))
	sb.WriteString("\n")
}

// pad aligns styled within width using the width of its plain form.
func (t *Table) pad(styled, plain string, width int, align Align) string {
	n := ansi.StringWidth(plain)
	if n >= width {
		return styled
	}
	gap := width - n
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + styled
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", gap-left)
	default:
		return styled + strings.Repeat(" ", gap)
	}
}

func stripAnsi(s string) string {
	return ansi.Strip(s)
}
