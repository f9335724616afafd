package normalize

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timestampFormats are tried in order; the first match wins, a row with no
// match is skipped and counted as a parse warning.
var timestampFormats = []string{
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an operator wall-clock timestamp. The result carries
// no zone information beyond UTC bookkeeping; values are naive local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// ParseNumber converts a CSV cell to a float. Empty, whitespace-only and
// non-numeric tokens become nil, never zero.
func ParseNumber(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	// Upstream files occasionally wrap negatives in parens and embed
	// thousands separators.
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if neg {
		v = -v
	}
	return &v
}

// table is a parsed CSV with case-insensitive header lookup.
type table struct {
	header  []string
	index   map[string]int // normalized header name -> column
	records [][]string
}

// normalizeHeader canonicalizes a column name for lookup.
func normalizeHeader(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// parseTable reads the entire CSV payload. Ragged rows are tolerated; short
// rows simply miss optional columns.
func parseTable(data []byte) (*table, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(rows) == 0 {
		return &table{index: map[string]int{}}, nil
	}

	t := &table{
		header:  rows[0],
		index:   make(map[string]int, len(rows[0])),
		records: rows[1:],
	}
	for i, name := range rows[0] {
		t.index[normalizeHeader(name)] = i
	}
	return t, nil
}

// col returns the column index for any of the given header names, preferring
// earlier alternatives. ok is false when none is present.
func (t *table) col(names ...string) (int, bool) {
	for _, name := range names {
		if idx, ok := t.index[normalizeHeader(name)]; ok {
			return idx, true
		}
	}
	return 0, false
}

// require returns the column index or a SchemaError naming the family.
func (t *table) require(tag string, names ...string) (int, error) {
	if idx, ok := t.col(names...); ok {
		return idx, nil
	}
	return 0, &SchemaError{Tag: tag, Column: names[0]}
}

// cell returns the trimmed value at (row, col); short rows yield "".
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// canonicalName uppercases and trims an entity name, the interning form for
// zones and interfaces.
func canonicalName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
