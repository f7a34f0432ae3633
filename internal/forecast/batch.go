package forecast

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/wattlens/wattlens/internal/models"
)

// BatchRequiredColumns must be present in every module file sent for batch prediction.
var BatchRequiredColumns = []string{
	"localtime", "activePower",
	"voltageR", "voltageS", "voltageT",
	"currentR", "currentS", "currentT",
	"powerFactorR", "powerFactorS", "powerFactorT",
	"hour", "dayofweek", "month",
}

// ModuleColumn tags each row with its source module.
const ModuleColumn = "module(equipment)"

// ModuleFrame is one module's rows prepared for the endpoint.
type ModuleFrame struct {
	Module  int
	Columns []string
	Rows    [][]string
}

// PrepareModule restores the source time column name, appends the module
// column and replaces blank or infinite numeric cells with 0.
func PrepareModule(table *models.Table, rename *models.RenameEvent, module int) ModuleFrame {
	columns := make([]string, 0, len(table.Columns)+1)
	for _, col := range table.Columns {
		if rename != nil && col == rename.To {
			col = rename.From
		}
		columns = append(columns, col)
	}
	columns = append(columns, ModuleColumn)

	moduleValue := strconv.Itoa(module)
	rows := make([][]string, len(table.Cells))
	for i, cells := range table.Cells {
		row := make([]string, 0, len(cells)+1)
		for _, cell := range cells {
			row = append(row, fillCell(cell))
		}
		rows[i] = append(row, moduleValue)
	}
	return ModuleFrame{Module: module, Columns: columns, Rows: rows}
}

func fillCell(cell string) string {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" || strings.EqualFold(trimmed, "nan") {
		return "0"
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && math.IsInf(f, 0) {
		return "0"
	}
	return cell
}

// EncodeFrames writes frames as one CSV document using the first frame's
// header. Columns absent from later frames are written as 0.
func EncodeFrames(frames []ModuleFrame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no module frames to encode")
	}
	header := frames[0].Columns

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, frame := range frames {
		index := make(map[string]int, len(frame.Columns))
		for i, col := range frame.Columns {
			index[col] = i
		}
		for _, row := range frame.Rows {
			out := make([]string, len(header))
			for i, col := range header {
				if j, ok := index[col]; ok && j < len(row) {
					out[i] = row[j]
				} else {
					out[i] = "0"
				}
			}
			if err := w.Write(out); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BatchFailure records a batch the endpoint rejected.
type BatchFailure struct {
	Batch   int    `json:"batch"`
	Modules []int  `json:"modules"`
	Error   string `json:"error"`
}

// BatchResult holds combined records from every successful batch.
type BatchResult struct {
	Batches      int              `json:"batches"`
	Columns      []string         `json:"columns"`
	Records      []map[string]any `json:"records"`
	Failures     []BatchFailure   `json:"failures,omitempty"`
	ModuleCounts map[string]int   `json:"module_counts,omitempty"`
}

// PredictBatches sends frames in groups of batchSize modules. A failed batch
// is recorded and skipped. It returns an error only when every batch failed.
func (c *Client) PredictBatches(ctx context.Context, frames []ModuleFrame, batchSize int) (BatchResult, error) {
	if len(frames) == 0 {
		return BatchResult{}, fmt.Errorf("no module frames to predict")
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	sorted := append([]ModuleFrame(nil), frames...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Module < sorted[j].Module })

	var result BatchResult
	for start := 0; start < len(sorted); start += batchSize {
		end := start + batchSize
		if end > len(sorted) {
			end = len(sorted)
		}
		group := sorted[start:end]
		result.Batches++

		modules := make([]int, len(group))
		for i, f := range group {
			modules[i] = f.Module
		}

		records, err := c.predictBatch(ctx, group)
		if err != nil {
			c.logger.Warn("forecast batch failed", slog.Int("batch", result.Batches), slog.Any("modules", modules), slog.Any("error", err))
			result.Failures = append(result.Failures, BatchFailure{Batch: result.Batches, Modules: modules, Error: err.Error()})
			continue
		}
		result.Records = append(result.Records, records...)
	}

	if len(result.Failures) == result.Batches {
		return result, fmt.Errorf("all %d forecast batches failed", result.Batches)
	}
	result.Columns = recordColumns(result.Records)
	result.ModuleCounts = moduleCounts(result.Records)
	return result, nil
}

func (c *Client) predictBatch(ctx context.Context, group []ModuleFrame) ([]map[string]any, error) {
	body, err := EncodeFrames(group)
	if err != nil {
		return nil, err
	}
	raw, err := c.InvokeCSV(ctx, body)
	if err != nil {
		return nil, err
	}
	return ParseRecords(raw)
}

// ParseRecords decodes a tabular JSON response: a list of row objects, or an
// object mapping column names to value lists or index-keyed objects.
func ParseRecords(raw []byte) ([]map[string]any, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}

	switch v := doc.(type) {
	case []any:
		records := make([]map[string]any, 0, len(v))
		for _, item := range v {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, unrecognized("record list holds non-object items", raw)
			}
			records = append(records, row)
		}
		return records, nil
	case map[string]any:
		return columnsToRecords(v, raw)
	default:
		return nil, unrecognized(fmt.Sprintf("top-level %T", doc), raw)
	}
}

func columnsToRecords(columns map[string]any, raw []byte) ([]map[string]any, error) {
	var records []map[string]any
	ensure := func(n int) {
		for len(records) < n {
			records = append(records, map[string]any{})
		}
	}
	for name, col := range columns {
		switch values := col.(type) {
		case []any:
			ensure(len(values))
			for i, val := range values {
				records[i][name] = val
			}
		case map[string]any:
			for key, val := range values {
				idx, err := strconv.Atoi(key)
				if err != nil || idx < 0 {
					return nil, unrecognized("column object keyed by non-integer index", raw)
				}
				ensure(idx + 1)
				records[idx][name] = val
			}
		default:
			return nil, unrecognized(fmt.Sprintf("column %q is %T", name, col), raw)
		}
	}
	return records, nil
}

func recordColumns(records []map[string]any) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range records {
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func moduleCounts(records []map[string]any) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		v, ok := r["module"]
		if !ok {
			continue
		}
		counts[FormatValue(v)]++
	}
	if len(counts) == 0 {
		return nil
	}
	return counts
}

// FormatValue renders a decoded JSON value as a CSV cell.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
