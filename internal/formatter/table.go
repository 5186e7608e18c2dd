package formatter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Align controls how a column's cells are padded relative to the tabwriter stop.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

// Table formats columnar output using tabwriter, used by the CLI's
// human-readable (non --format json/yaml) tables: contracts, negotiate
// status, reverse preview, and analytics show.
type Table struct {
	w             *tabwriter.Writer
	headers       []string
	maxWidth      map[int]int // column index -> max width (0 = unlimited)
	align         map[int]Align
	headerWritten bool
}

// NewTable creates a table that writes to w with the given column headers.
func NewTable(w io.Writer, headers ...string) *Table {
	return &Table{
		w:        tabwriter.NewWriter(w, 0, 0, 2, ' ', 0),
		headers:  headers,
		maxWidth: make(map[int]int),
		align:    make(map[int]Align),
	}
}

// SetMaxWidth sets the maximum display width for a column (0-indexed).
// Values exceeding the limit are truncated with "...".
func (t *Table) SetMaxWidth(col, width int) *Table {
	t.maxWidth[col] = width
	return t
}

// SetAlign right-aligns a column (e.g. a FILES or LINE count column). Left
// alignment is the default.
func (t *Table) SetAlign(col int, a Align) *Table {
	t.align[col] = a
	return t
}

// AddRow appends a data row. Extra values beyond the header count are ignored;
// missing values are filled with empty strings.
func (t *Table) AddRow(values ...string) {
	if !t.headerWritten {
		t.headerWritten = true
		t.writeHeaderAndSeparator()
	}

	cells := make([]string, len(t.headers))
	for i := range cells {
		if i < len(values) {
			cells[i] = t.format(i, values[i])
		}
	}
	t.writeRow(cells)
}

// Render flushes the underlying tabwriter. Must be called after all AddRow calls.
func (t *Table) Render() error {
	return t.w.Flush()
}

func (t *Table) writeHeaderAndSeparator() {
	headerCells := make([]string, len(t.headers))
	sepCells := make([]string, len(t.headers))
	for i, h := range t.headers {
		headerCells[i] = h
		sepCells[i] = strings.Repeat("-", len(h))
	}
	t.writeRow(headerCells)
	t.writeRow(sepCells)
}

func (t *Table) writeRow(cells []string) {
	for i, cell := range cells {
		if i > 0 {
			//nolint:errcheck // tabwriter output to stdout
			fmt.Fprint(t.w, "\t")
		}
		if t.align[i] == AlignRight {
			//nolint:errcheck // tabwriter output to stdout
			fmt.Fprintf(t.w, "%*s", t.columnTarget(i), cell)
		} else {
			//nolint:errcheck // tabwriter output to stdout
			fmt.Fprint(t.w, cell)
		}
	}
	//nolint:errcheck // tabwriter output to stdout
	fmt.Fprintln(t.w)
}

// columnTarget returns a printf width hint for right alignment; tabwriter
// still pads the column to the widest cell, this only nudges short numeric
// values (e.g. "3") away from hugging the tab stop of a wide header.
func (t *Table) columnTarget(col int) int {
	if col < len(t.headers) {
		return len(t.headers[col])
	}
	return 0
}

func (t *Table) format(col int, s string) string {
	max, ok := t.maxWidth[col]
	if !ok || max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
