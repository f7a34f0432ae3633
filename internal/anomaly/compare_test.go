package anomaly

import (
	"testing"

	"github.com/wattlens/wattlens/internal/models"
)

func TestCompareCountsMissingAndTruncates(t *testing.T) {
	raw := &models.Table{
		Columns: []string{"activePower", "currentR"},
		Cells:   [][]string{{"1", ""}, {"", "2"}, {"", "3"}, {"4", ""}},
	}
	cleaned := &models.Table{
		Columns: []string{"activePower", "currentR"},
		Cells:   [][]string{{"1", "1"}, {"2", "2"}, {"", "3"}, {"4", "4"}},
	}

	cmp, err := Compare(raw, cleaned, "activePower", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmp.RawRows != 3 || cmp.CleanedRows != 3 || len(cmp.Cleaned) != 3 {
		t.Fatalf("expected truncation to 3 rows, got %d/%d", cmp.RawRows, cmp.CleanedRows)
	}
	if cmp.RawMissing != 2 || cmp.CleanedMissing != 1 || cmp.MissingReduced() != 1 {
		t.Fatalf("unexpected missing counts: %+v", cmp)
	}

	if _, err := Compare(raw, cleaned, "powerFactorR", 0); err == nil {
		t.Fatalf("expected missing column error")
	}

	cleaned.Columns = append(cleaned.Columns, "powerFactorR")
	for i := range cleaned.Cells {
		cleaned.Cells[i] = append(cleaned.Cells[i], "0.9")
	}
	onlyCleaned, err := Compare(raw, cleaned, "powerFactorR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if onlyCleaned.RawPresent || onlyCleaned.CleanedRows != 4 || onlyCleaned.MissingReduced() != 0 {
		t.Fatalf("unexpected cleaned-only comparison: %+v", onlyCleaned)
	}
}

func TestAvailableColumns(t *testing.T) {
	table := &models.Table{Columns: []string{"timestamp", "currentS", "activePower", "voltageR"}}
	got := AvailableColumns(table)
	if len(got) != 2 || got[0] != "activePower" || got[1] != "currentS" {
		t.Fatalf("unexpected columns: %v", got)
	}
}
