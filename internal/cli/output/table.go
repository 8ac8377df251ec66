package output

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/marmos91/dittocache/pkg/cache"
)

// TableRenderer is implemented by values that print as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes t as a borderless, left-aligned table.
func PrintTable(w io.Writer, t TableRenderer) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader(t.Headers())
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(t.Rows())
	table.Render()
	return nil
}

// Table is an ad-hoc TableRenderer.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable returns an empty table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, rows: [][]string{}}
}

// AddRow appends a row. Values are formatted with %v.
func (t *Table) AddRow(values ...any) {
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = fmt.Sprint(v)
	}
	t.rows = append(t.rows, row)
}

func (t *Table) Headers() []string { return t.headers }
func (t *Table) Rows() [][]string  { return t.rows }

// StatsTable flattens a stats tree into COMPONENT / STAT / VALUE rows.
// Nested components are indented under their parent.
type StatsTable struct {
	Stats cache.Stats
}

func (s StatsTable) Headers() []string { return []string{"Component", "Stat", "Value"} }

func (s StatsTable) Rows() [][]string {
	var rows [][]string
	var walk func(st cache.Stats, indent string)
	walk = func(st cache.Stats, indent string) {
		component := indent + st.TypeName
		for _, v := range st.Values {
			rows = append(rows, []string{component, v.Name, fmt.Sprint(v.Value)})
			component = ""
		}
		if len(st.Values) == 0 {
			rows = append(rows, []string{component, "", ""})
		}
		for _, c := range st.Children {
			walk(c, indent+"  ")
		}
	}
	walk(s.Stats, "")
	return rows
}
