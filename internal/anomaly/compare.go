package anomaly

import (
	"fmt"
	"math"
	"time"

	"github.com/wattlens/wattlens/internal/models"
)

// CompareColumns are the measurements offered for raw vs. cleaned comparison.
var CompareColumns = []string{
	"activePower",
	"currentR", "currentS", "currentT",
	"powerFactorR", "powerFactorS", "powerFactorT",
}

// DefaultCompareRows caps each side of a comparison.
const DefaultCompareRows = 5000

// Comparison holds one column before and after cleaning.
type Comparison struct {
	Column         string          `json:"column"`
	RawPresent     bool            `json:"raw_present"`
	RawRows        int             `json:"raw_rows"`
	RawMissing     int             `json:"raw_missing"`
	RawTimes       []time.Time     `json:"raw_times,omitempty"`
	Raw            []models.Number `json:"raw,omitempty"`
	CleanedRows    int             `json:"cleaned_rows"`
	CleanedMissing int             `json:"cleaned_missing"`
	CleanedTimes   []time.Time     `json:"cleaned_times,omitempty"`
	Cleaned        []models.Number `json:"cleaned"`
}

// MissingReduced reports how many NaN cells cleaning removed.
func (c Comparison) MissingReduced() int {
	if !c.RawPresent {
		return 0
	}
	return c.RawMissing - c.CleanedMissing
}

// AvailableColumns lists the comparable columns present in table.
func AvailableColumns(table *models.Table) []string {
	var out []string
	for _, col := range CompareColumns {
		if table != nil && table.HasColumn(col) {
			out = append(out, col)
		}
	}
	return out
}

// Compare truncates both tables to maxRows and extracts column from each. The
// cleaned table must hold column; a raw table without it yields an empty raw side.
func Compare(raw, cleaned *models.Table, column string, maxRows int) (Comparison, error) {
	if maxRows <= 0 {
		maxRows = DefaultCompareRows
	}
	if cleaned == nil {
		return Comparison{}, fmt.Errorf("compare: cleaned table is required")
	}
	cleanHead := cleaned.Head(maxRows)
	cleanValues, ok := cleanHead.Float(column)
	if !ok {
		return Comparison{}, fmt.Errorf("compare: column %q missing from cleaned data", column)
	}

	cmp := Comparison{
		Column:         column,
		CleanedRows:    len(cleanValues),
		CleanedMissing: countNaN(cleanValues),
		CleanedTimes:   cleanHead.Times,
		Cleaned:        models.Numbers(cleanValues),
	}
	if raw == nil {
		return cmp, nil
	}
	rawHead := raw.Head(maxRows)
	if rawValues, ok := rawHead.Float(column); ok {
		cmp.RawPresent = true
		cmp.RawRows = len(rawValues)
		cmp.RawMissing = countNaN(rawValues)
		cmp.RawTimes = rawHead.Times
		cmp.Raw = models.Numbers(rawValues)
	}
	return cmp, nil
}

func countNaN(values []float64) int {
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}
