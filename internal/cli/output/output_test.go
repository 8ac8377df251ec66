package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittocache/pkg/cache"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{" yml ", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintTable(t *testing.T) {
	table := NewTable("Region", "Items")
	table.AddRow("users", 12)
	table.AddRow("sessions", 0)

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(table))

	out := buf.String()
	assert.Contains(t, out, "REGION")
	assert.Contains(t, out, "ITEMS")
	assert.Contains(t, out, "users")
	assert.Contains(t, out, "12")
}

func TestPrintJSONAndYAML(t *testing.T) {
	v := map[string]int{"items": 3}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON).Print(v))
	var decoded map[string]int
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, v, decoded)

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatYAML).Print(v))
	assert.Equal(t, "items: 3\n", buf.String())
}

func TestTableFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print([]string{"a"}))
	assert.JSONEq(t, `["a"]`, buf.String())
}

func TestStatsTable(t *testing.T) {
	s := cache.Stats{TypeName: "Region"}
	s.Add("name", "users").Add("misses", 2)
	child := cache.Stats{TypeName: "LRU Memory Cache"}
	child.Add("list_size", 5)
	s.Children = append(s.Children, child, cache.Stats{TypeName: "Empty"})

	rows := StatsTable{Stats: s}.Rows()
	assert.Equal(t, [][]string{
		{"Region", "name", "users"},
		{"", "misses", "2"},
		{"  LRU Memory Cache", "list_size", "5"},
		{"  Empty", "", ""},
	}, rows)
}
