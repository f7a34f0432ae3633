package models

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Table is a normalized, row-ordered view of one ingested CSV.
// Times is parallel to Cells when TimeColumn is set, and empty otherwise.
type Table struct {
	Columns    []string    `json:"columns"`
	TimeColumn string      `json:"time_column,omitempty"`
	Times      []time.Time `json:"times,omitempty"`
	Cells      [][]string  `json:"cells"`
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Cells)
}

// HasTime reports whether rows carry a parsed timestamp.
func (t *Table) HasTime() bool {
	return t != nil && t.TimeColumn != "" && len(t.Times) == len(t.Cells)
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	if t == nil {
		return -1
	}
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether name is a column of t.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// Strings returns the raw text of a column.
func (t *Table) Strings(name string) ([]string, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(t.Cells))
	for i, row := range t.Cells {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, true
}

// Float coerces a column to float64; blank or non-numeric cells become NaN.
func (t *Table) Float(name string) ([]float64, bool) {
	raw, ok := t.Strings(name)
	if !ok {
		return nil, false
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = ParseFloat(v)
	}
	return out, true
}

// Head returns a copy holding at most n leading rows.
func (t *Table) Head(n int) *Table {
	if t == nil {
		return nil
	}
	if n < 0 || n > len(t.Cells) {
		n = len(t.Cells)
	}
	out := &Table{
		Columns:    append([]string(nil), t.Columns...),
		TimeColumn: t.TimeColumn,
		Cells:      make([][]string, n),
	}
	for i := 0; i < n; i++ {
		out.Cells[i] = append([]string(nil), t.Cells[i]...)
	}
	if t.HasTime() {
		out.Times = append([]time.Time(nil), t.Times[:n]...)
	}
	return out
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	return t.Head(-1)
}

// SortedByTime returns a copy with rows stably ordered by timestamp. Tables
// without a time axis are copied unchanged.
func (t *Table) SortedByTime() *Table {
	src := t.Clone()
	if !src.HasTime() {
		return src
	}
	idx := make([]int, len(src.Cells))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return src.Times[idx[a]].Before(src.Times[idx[b]]) })

	out := &Table{Columns: src.Columns, TimeColumn: src.TimeColumn}
	out.Cells = make([][]string, len(idx))
	out.Times = make([]time.Time, len(idx))
	for i, j := range idx {
		out.Cells[i] = src.Cells[j]
		out.Times[i] = src.Times[j]
	}
	return out
}

// ParseFloat parses a numeric cell the way the dashboards coerce values:
// surrounding spaces and thousands commas are ignored, anything else is NaN.
func ParseFloat(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
