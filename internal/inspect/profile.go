package inspect

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wattlens/wattlens/internal/models"
	"github.com/wattlens/wattlens/internal/utils"
)

// Column kinds reported by Profile.
const (
	KindNumeric  = "numeric"
	KindDatetime = "datetime"
	KindText     = "text"
)

// timeKeywords mark column names worth converting to datetime.
var timeKeywords = []string{"time", "date", "시간", "날짜", "timestamp"}

// Profile describes an ingested table for the data-check page.
type Profile struct {
	Source      string           `json:"source"`
	Encoding    string           `json:"encoding"`
	Rows        int              `json:"rows"`
	Columns     int              `json:"columns"`
	ApproxBytes int              `json:"approx_bytes"`
	DroppedRows int              `json:"dropped_rows"`
	Fields      []ColumnProfile  `json:"fields"`
	Suggestions []Suggestion     `json:"suggestions"`
	Warnings    []models.Warning `json:"warnings,omitempty"`
}

// ColumnProfile summarises one column.
type ColumnProfile struct {
	Name         string        `json:"name"`
	Kind         string        `json:"kind"`
	Missing      int           `json:"missing"`
	MissingRatio float64       `json:"missing_ratio"`
	Unique       int           `json:"unique"`
	Stats        *NumericStats `json:"stats,omitempty"`
	TopValues    []ValueCount  `json:"top_values,omitempty"`
}

// NumericStats is the describe() summary of a numeric column.
type NumericStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	P25   float64 `json:"p25"`
	P50   float64 `json:"p50"`
	P75   float64 `json:"p75"`
	Max   float64 `json:"max"`
}

// ValueCount is a frequent text value.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Suggestion proposes a type conversion for a column.
type Suggestion struct {
	Column  string `json:"column"`
	Target  string `json:"target"`
	Message string `json:"message"`
}

// Build profiles an ingest result. Datetime suggestions parse sample values in loc.
func Build(result *models.IngestResult, loc *time.Location) Profile {
	table := result.Table
	if table == nil {
		table = &models.Table{}
	}
	numeric := make(map[string]struct{}, len(result.NumericColumns))
	for _, col := range result.NumericColumns {
		numeric[col] = struct{}{}
	}

	p := Profile{
		Source:      result.Source,
		Encoding:    result.Encoding,
		Rows:        table.Len(),
		Columns:     len(table.Columns),
		ApproxBytes: approxBytes(table),
		DroppedRows: result.DroppedRows,
		Fields:      make([]ColumnProfile, 0, len(table.Columns)),
		Warnings:    result.Warnings,
	}

	for _, col := range table.Columns {
		raw, _ := table.Strings(col)
		cp := ColumnProfile{Name: col, Kind: KindText}
		switch {
		case col == table.TimeColumn && table.TimeColumn != "":
			cp.Kind = KindDatetime
		case isNumeric(numeric, col):
			cp.Kind = KindNumeric
		}

		counts := make(map[string]int)
		for _, v := range raw {
			v = strings.TrimSpace(v)
			if v == "" {
				cp.Missing++
				continue
			}
			counts[v]++
		}
		cp.Unique = len(counts)
		if p.Rows > 0 {
			cp.MissingRatio = float64(cp.Missing) / float64(p.Rows)
		}

		switch cp.Kind {
		case KindNumeric:
			values, _ := table.Float(col)
			cp.Stats = describe(values)
			if needsNumericCleanup(raw) {
				p.Suggestions = append(p.Suggestions, Suggestion{
					Column:  col,
					Target:  KindNumeric,
					Message: fmt.Sprintf("'%s' holds formatted numbers; convert to numeric", col),
				})
			}
		case KindText:
			cp.TopValues = topValues(counts, 5)
			if hasTimeKeyword(col) && parsesAsTime(raw, loc, 5) {
				p.Suggestions = append(p.Suggestions, Suggestion{
					Column:  col,
					Target:  KindDatetime,
					Message: fmt.Sprintf("'%s' looks like a date/time; convert to datetime", col),
				})
			}
		}
		p.Fields = append(p.Fields, cp)
	}
	return p
}

func isNumeric(set map[string]struct{}, col string) bool {
	_, ok := set[col]
	return ok
}

func approxBytes(table *models.Table) int {
	total := 24 * len(table.Times)
	for _, col := range table.Columns {
		total += 16 + len(col)
	}
	for _, row := range table.Cells {
		for _, cell := range row {
			total += 16 + len(cell)
		}
	}
	return total
}

// describe summarises the finite values of a column.
func describe(values []float64) *NumericStats {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return &NumericStats{}
	}
	sort.Float64s(clean)

	sum := 0.0
	for _, v := range clean {
		sum += v
	}
	mean := sum / float64(len(clean))

	std := 0.0
	if len(clean) > 1 {
		ss := 0.0
		for _, v := range clean {
			ss += (v - mean) * (v - mean)
		}
		std = math.Sqrt(ss / float64(len(clean)-1))
	}

	return &NumericStats{
		Count: len(clean),
		Mean:  mean,
		Std:   std,
		Min:   clean[0],
		P25:   quantile(clean, 0.25),
		P50:   quantile(clean, 0.5),
		P75:   quantile(clean, 0.75),
		Max:   clean[len(clean)-1],
	}
}

// quantile interpolates linearly between closest ranks of sorted values.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func topValues(counts map[string]int, n int) []ValueCount {
	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func hasTimeKeyword(col string) bool {
	lower := strings.ToLower(col)
	for _, kw := range timeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func parsesAsTime(raw []string, loc *time.Location, sample int) bool {
	checked := 0
	for _, v := range raw {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if _, err := utils.ParseLocalTime(v, nil, loc); err != nil {
			return false
		}
		checked++
		if checked == sample {
			break
		}
	}
	return checked > 0
}

// needsNumericCleanup reports cells that only parse once spaces or thousands
// separators are removed.
func needsNumericCleanup(raw []string) bool {
	for _, v := range raw {
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return true
		}
	}
	return false
}
