package excel

import (
	"strings"

	"github.com/PennBBL/GAMM-Tutorial/internal/errors"
)

// RawTable holds untyped cells as read from a sheet or CSV file
type RawTable struct {
	Headers []string   // Column headers
	Rows    [][]string // Data rows, padded to the header width
	index   map[string]int
}

func newRawTable(rows [][]string) (*RawTable, error) {
	if len(rows) < 2 {
		return nil, errors.InvalidInput("data file must have at least a header row and one data row")
	}
	t := &RawTable{index: make(map[string]int)}
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		t.Headers = append(t.Headers, h)
		if _, dup := t.index[h]; !dup && h != "" {
			t.index[h] = i
		}
	}
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		cells := make([]string, len(t.Headers))
		for j := 0; j < len(row) && j < len(cells); j++ {
			cells[j] = strings.TrimSpace(row[j])
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

// Column returns the cells under header name
func (t *RawTable) Column(name string) ([]string, bool) {
	j, ok := t.index[name]
	if !ok {
		return nil, false
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[j]
	}
	return out, true
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
