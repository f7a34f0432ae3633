package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/wattlens/wattlens/internal/forecast"
)

// PredictionsCSV writes forecast steps with their bill and carbon figures.
func PredictionsCSV(w io.Writer, target string, preds []forecast.Prediction) error {
	if target == "" {
		target = "value"
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "predicted_" + target, "predicted_bill_krw", "predicted_carbon_kgco2"}); err != nil {
		return err
	}
	for _, p := range preds {
		record := []string{
			p.Time.Format(sampleLayout),
			strconv.FormatFloat(p.Value, 'f', -1, 64),
			strconv.FormatFloat(p.Bill, 'f', -1, 64),
			strconv.FormatFloat(p.Carbon, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RecordsCSV writes batch prediction records in column order.
func RecordsCSV(w io.Writer, columns []string, records []map[string]any) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, r := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = forecast.FormatValue(r[col])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
