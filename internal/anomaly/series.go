package anomaly

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/wattlens/wattlens/internal/models"
)

// ErrNoTimeAxis is returned when a table carries no timestamp column.
var ErrNoTimeAxis = errors.New("table has no timestamp column")

// SeriesFrom builds a series from one numeric column of an ingested table.
// Blank or invalid cells become NaN.
func SeriesFrom(table *models.Table, column string) (Series, error) {
	if table == nil || !table.HasTime() {
		return nil, ErrNoTimeAxis
	}
	values, ok := table.Float(column)
	if !ok {
		return nil, fmt.Errorf("column %q not found", column)
	}
	series := make(Series, len(values))
	for i, v := range values {
		series[i] = Point{Time: table.Times[i], Value: v}
	}
	return series, nil
}

// Table renders the series as a table with a timestamp column, a value column
// and, when labelColumn is set, a label column.
func (s Series) Table(timeColumn, valueColumn, labelColumn string) *models.Table {
	columns := []string{timeColumn, valueColumn}
	if labelColumn != "" {
		columns = append(columns, labelColumn)
	}
	table := &models.Table{
		Columns:    columns,
		TimeColumn: timeColumn,
		Times:      make([]time.Time, len(s)),
		Cells:      make([][]string, len(s)),
	}
	for i, p := range s {
		table.Times[i] = p.Time
		row := []string{p.Time.Format(time.RFC3339), strconv.FormatFloat(p.Value, 'f', -1, 64)}
		if labelColumn != "" {
			row = append(row, p.Label)
		}
		table.Cells[i] = row
	}
	return table
}
