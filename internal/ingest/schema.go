package ingest

import (
	"math"
	"strings"

	"github.com/wattlens/wattlens/internal/models"
)

const byteOrderMark = "\ufeff"

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, byteOrderMark)
		h = strings.ReplaceAll(h, `"`, "")
		out[i] = strings.TrimSpace(h)
	}
	return out
}

// resolveTimeColumn picks the timestamp column from the header alone. A column
// already carrying the canonical name wins; otherwise the first column whose
// lower-cased name contains a vocabulary word is used. It returns -1 when
// nothing matches.
func resolveTimeColumn(header []string, vocabulary []string, canonical string) (int, *models.RenameEvent) {
	for i, h := range header {
		if strings.EqualFold(h, canonical) {
			if h != canonical {
				return i, &models.RenameEvent{From: h, To: canonical}
			}
			return i, nil
		}
	}
	for i, h := range header {
		lower := strings.ToLower(h)
		for _, word := range vocabulary {
			if word != "" && strings.Contains(lower, strings.ToLower(word)) {
				return i, &models.RenameEvent{From: h, To: canonical}
			}
		}
	}
	return -1, nil
}

func missingColumns(header []string, required []string) []string {
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[h] = struct{}{}
	}
	var missing []string
	for _, r := range required {
		if _, ok := present[r]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}

// numericColumns returns non-time columns where every non-blank cell parses
// as a float and at least one does, followed by any forced columns.
func numericColumns(table *models.Table, forced []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for idx, col := range table.Columns {
		if col == table.TimeColumn {
			continue
		}
		parsed := 0
		numeric := true
		for _, row := range table.Cells {
			v := strings.TrimSpace(row[idx])
			if v == "" {
				continue
			}
			if math.IsNaN(models.ParseFloat(v)) {
				numeric = false
				break
			}
			parsed++
		}
		if numeric && parsed > 0 {
			out = append(out, col)
			seen[col] = struct{}{}
		}
	}
	for _, col := range forced {
		if _, ok := seen[col]; ok || !table.HasColumn(col) {
			continue
		}
		out = append(out, col)
		seen[col] = struct{}{}
	}
	return out
}
