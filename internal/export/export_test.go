package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/wattlens/wattlens/internal/anomaly"
	"github.com/wattlens/wattlens/internal/forecast"
)

func sampleReport() AnomalyReport {
	t0 := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	series := anomaly.Series{
		{Time: t0, Value: 0.4, Label: "activePower"},
		{Time: t0.Add(10 * time.Minute), Value: 1.2, Label: "current_S"},
	}
	return AnomalyReport{
		RenderID:    "render-1",
		Module:      3,
		Threshold:   1.0,
		Start:       t0,
		End:         t0.Add(24*time.Hour - time.Second),
		Annotated:   anomaly.Annotate(series, 1.0),
		Hints:       []string{"Check phase S current transformer"},
		GeneratedAt: t0,
	}
}

func TestAnomalyXLSX(t *testing.T) {
	data, err := AnomalyXLSX(sampleReport())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	if v, _ := f.GetCellValue("summary", "B7"); v != "1" {
		t.Fatalf("expected anomaly count 1, got %q", v)
	}
	if v, _ := f.GetCellValue("samples", "C3"); v != "current_S" {
		t.Fatalf("unexpected feature cell: %q", v)
	}
	if v, _ := f.GetCellValue("samples", "B3"); v != "1.2" {
		t.Fatalf("unexpected error cell: %q", v)
	}
}

func TestAnomalyPDF(t *testing.T) {
	data, err := AnomalyPDF(sampleReport())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("output is not a pdf")
	}
}

func TestPredictionsCSV(t *testing.T) {
	t0 := time.Date(2025, 5, 1, 1, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := PredictionsCSV(&buf, "hourly_pow", []forecast.Prediction{{Time: t0, Value: 2, Bill: 360, Carbon: 0.848}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if rows[0][1] != "predicted_hourly_pow" || rows[1][0] != "2025-05-01 01:00:00" || rows[1][2] != "360" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestRecordsCSV(t *testing.T) {
	var buf bytes.Buffer
	records := []map[string]any{{"module": float64(1), "pred": 0.5}, {"module": float64(2)}}
	if err := RecordsCSV(&buf, []string{"module", "pred"}, records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := buf.String(); got != "module,pred\n1,0.5\n2,\n" {
		t.Fatalf("unexpected csv: %q", got)
	}
}
