package inspect

import (
	"math"
	"testing"
	"time"

	"github.com/wattlens/wattlens/internal/models"
)

func TestBuildProfile(t *testing.T) {
	t0 := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	result := &models.IngestResult{
		Source:   "upload.csv",
		Encoding: "utf-8",
		Table: &models.Table{
			Columns:    []string{"timestamp", "activePower", "status", "update_date", "energy"},
			TimeColumn: "timestamp",
			Times:      []time.Time{t0, t0.Add(time.Hour), t0.Add(2 * time.Hour), t0.Add(3 * time.Hour)},
			Cells: [][]string{
				{"a", "1", "ok", "2025-05-01", "1,200"},
				{"b", "2", "ok", "2025-05-02", "800"},
				{"c", "", "fault", "2025-05-03", "950"},
				{"d", "5", "", "2025-05-04", "1,010"},
			},
		},
		NumericColumns: []string{"activePower", "energy"},
		DroppedRows:    1,
	}

	p := Build(result, time.UTC)
	if p.Rows != 4 || p.Columns != 5 || p.DroppedRows != 1 || p.ApproxBytes <= 0 {
		t.Fatalf("unexpected overview: %+v", p)
	}

	byName := make(map[string]ColumnProfile)
	for _, f := range p.Fields {
		byName[f.Name] = f
	}
	if byName["timestamp"].Kind != KindDatetime {
		t.Fatalf("expected datetime kind, got %s", byName["timestamp"].Kind)
	}

	power := byName["activePower"]
	if power.Kind != KindNumeric || power.Missing != 1 || power.MissingRatio != 0.25 || power.Unique != 3 {
		t.Fatalf("unexpected activePower profile: %+v", power)
	}
	stats := power.Stats
	if stats.Count != 3 || stats.Mean != 8.0/3 || stats.Min != 1 || stats.Max != 5 || stats.P50 != 2 || stats.P25 != 1.5 || stats.P75 != 3.5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if math.Abs(stats.Std-math.Sqrt(13.0/3)) > 1e-9 {
		t.Fatalf("unexpected std: %v", stats.Std)
	}

	status := byName["status"]
	if status.Kind != KindText || len(status.TopValues) != 2 || status.TopValues[0] != (ValueCount{Value: "ok", Count: 2}) {
		t.Fatalf("unexpected status profile: %+v", status)
	}

	var datetimeHint, numericHint bool
	for _, s := range p.Suggestions {
		if s.Column == "update_date" && s.Target == KindDatetime {
			datetimeHint = true
		}
		if s.Column == "energy" && s.Target == KindNumeric {
			numericHint = true
		}
		if s.Column == "activePower" {
			t.Fatalf("plain numeric column should not get a suggestion")
		}
	}
	if !datetimeHint || !numericHint {
		t.Fatalf("missing suggestions: %+v", p.Suggestions)
	}
}

func TestBuildEmptyTable(t *testing.T) {
	p := Build(&models.IngestResult{}, nil)
	if p.Rows != 0 || p.Columns != 0 || len(p.Fields) != 0 {
		t.Fatalf("unexpected profile: %+v", p)
	}
}
