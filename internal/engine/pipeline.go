package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wattlens/wattlens/internal/anomaly"
	"github.com/wattlens/wattlens/internal/forecast"
	"github.com/wattlens/wattlens/internal/ingest"
	"github.com/wattlens/wattlens/internal/inspect"
	"github.com/wattlens/wattlens/internal/metrics"
	"github.com/wattlens/wattlens/internal/models"
)

var (
	// ErrUnknownModule is returned for modules outside the configured set.
	ErrUnknownModule = errors.New("unknown module")
	// ErrUnknownColumn is returned when a requested column is not in the data.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrNoUpload is returned when a page needs a file and none was supplied.
	ErrNoUpload = errors.New("no file or url supplied")
	// ErrNoModuleFiles is returned when no batch upload was usable.
	ErrNoModuleFiles = errors.New("no usable module files")
	// ErrForecastDisabled is returned when no inference endpoint is configured.
	ErrForecastDisabled = errors.New("forecast endpoint not configured")
)

// Column names of the error frame shown on the anomaly page.
const (
	ErrorTimeColumn    = "timestamp"
	ErrorValueColumn   = "total_error"
	ErrorFeatureColumn = "top_1_feature"
)

const (
	defaultTargetColumn = "hourly_pow"
	defaultBatchSize    = 3
	defaultHorizon      = 6
	previewRows         = 5
)

// EquipmentGroups are the charts of the equipment page, in display order.
var EquipmentGroups = []struct {
	Name    string
	Columns []string
}{
	{"Phase Voltages", []string{"voltageR", "voltageS", "voltageT"}},
	{"Line Voltages", []string{"voltageRS", "voltageST", "voltageTR"}},
	{"Currents", []string{"currentR", "currentS", "currentT"}},
	{"Power Factors", []string{"powerFactorR", "powerFactorS", "powerFactorT"}},
	{"Power Metrics", []string{"activePower", "reactivePowerLagging"}},
}

// TableLoader is the ingestion behaviour used by the pipeline.
type TableLoader interface {
	LoadTable(ctx context.Context, src ingest.Source, opts ingest.Options) (*models.IngestResult, error)
	LoadUpload(ctx context.Context, name string, data []byte, opts ingest.Options) (*models.IngestResult, error)
	URL(raw string) ingest.URLSource
}

// Forecaster is the inference endpoint behaviour used by the pipeline.
type Forecaster interface {
	Invoke(ctx context.Context, payload forecast.Request) (forecast.Response, error)
	PredictBatches(ctx context.Context, frames []forecast.ModuleFrame, batchSize int) (forecast.BatchResult, error)
}

// Upload is a file posted to a page, or a link to fetch one from.
type Upload struct {
	Name         string
	Data         []byte
	URL          string
	ArchiveEntry string
}

// Settings configures page renders.
type Settings struct {
	DataDir        string
	Modules        []int
	Location       *time.Location
	EquipmentFrom  time.Time
	EquipmentTo    time.Time
	CompareMaxRows int
	Forecast       forecast.Config
	TargetColumn   string
	TimeColumn     string
	EpochMillis    bool
	BatchSize      int
}

// Pipeline renders dashboard pages. Every render recomputes from its inputs.
type Pipeline struct {
	logger     *slog.Logger
	settings   Settings
	loader     TableLoader
	errors     anomaly.ErrorSource
	forecaster Forecaster
	rules      *RuleEngine
	newID      func() string
}

// NewPipeline constructs a page pipeline. A nil forecaster disables the
// forecast pages and a nil rule engine disables hints.
func NewPipeline(
	logger *slog.Logger,
	settings Settings,
	loader TableLoader,
	errorSource anomaly.ErrorSource,
	forecaster Forecaster,
	rules *RuleEngine,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.EquipmentFrom.IsZero() {
		settings.EquipmentFrom = time.Date(2024, 12, 1, 0, 0, 0, 0, settings.Location)
	}
	if settings.EquipmentTo.IsZero() {
		settings.EquipmentTo = time.Date(2025, 4, 30, 0, 0, 0, 0, settings.Location)
	}
	if settings.Forecast.MaxHorizon <= 0 {
		settings.Forecast = forecast.DefaultConfig()
	}
	if settings.TargetColumn == "" {
		settings.TargetColumn = defaultTargetColumn
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = defaultBatchSize
	}
	if errorSource == nil {
		errorSource = anomaly.NewSynthetic(0, settings.Location)
	}
	return &Pipeline{
		logger:     logger,
		settings:   settings,
		loader:     loader,
		errors:     errorSource,
		forecaster: forecaster,
		rules:      rules,
		newID:      uuid.NewString,
	}
}

// Modules returns the configured module numbers in ascending order.
func (p *Pipeline) Modules() []int {
	out := append([]int(nil), p.settings.Modules...)
	sort.Ints(out)
	return out
}

// HasModule reports whether module is configured.
func (p *Pipeline) HasModule(module int) bool {
	for _, m := range p.settings.Modules {
		if m == module {
			return true
		}
	}
	return false
}

// EquipmentView loads a module file and cuts the sensor groups to the day
// range [fromDay 00:00, toDay 23:59:59]. Zero days use the configured defaults.
func (p *Pipeline) EquipmentView(ctx context.Context, module int, fromDay, toDay time.Time) (EquipmentPage, error) {
	if !p.HasModule(module) {
		return EquipmentPage{}, fmt.Errorf("%w: %d", ErrUnknownModule, module)
	}
	if fromDay.IsZero() {
		fromDay = p.settings.EquipmentFrom
	}
	if toDay.IsZero() {
		toDay = p.settings.EquipmentTo
	}

	result, err := p.loader.LoadTable(ctx, ingest.ModuleSource(p.settings.DataDir, module), ingest.Options{})
	if err != nil {
		return EquipmentPage{}, fmt.Errorf("load module %d: %w", module, err)
	}
	table := result.Table
	if !table.HasTime() || table.Len() == 0 {
		return EquipmentPage{}, fmt.Errorf("module %d: %w", module, anomaly.ErrNoTimeAxis)
	}

	start, end := anomaly.DayWindow(fromDay, toDay)
	page := EquipmentPage{
		RenderID:  p.newID(),
		Module:    module,
		Start:     start,
		End:       end,
		TotalRows: table.Len(),
		Columns:   len(table.Columns),
		Encoding:  result.Encoding,
		Groups:    make([]ColumnGroup, 0, len(EquipmentGroups)),
		Warnings:  result.Warnings,
	}

	for _, group := range EquipmentGroups {
		cg := ColumnGroup{Name: group.Name, Traces: make([]Trace, 0, len(group.Columns))}
		for _, col := range group.Columns {
			series, err := anomaly.SeriesFrom(table, col)
			if err != nil {
				cg.Missing = append(cg.Missing, col)
				continue
			}
			windowed := anomaly.WindowedView(series, start, end)
			if len(windowed) > page.Rows {
				page.Rows = len(windowed)
			}
			cg.Traces = append(cg.Traces, Trace{Column: col, Points: windowed})
		}
		page.Groups = append(page.Groups, cg)
	}

	p.logger.Debug("equipment view rendered",
		slog.Int("module", module),
		slog.Int("rows", page.Rows),
		slog.Int("dropped", result.DroppedRows),
	)
	return page, nil
}

// AnomalyView flags a module's error series above threshold inside
// [start, end]. A zero bound defaults to the series extent.
func (p *Pipeline) AnomalyView(ctx context.Context, module int, start, end time.Time, threshold float64) (AnomalyPage, error) {
	if !p.HasModule(module) {
		return AnomalyPage{}, fmt.Errorf("%w: %d", ErrUnknownModule, module)
	}
	series, err := p.errors.Errors(ctx, module)
	if err != nil {
		return AnomalyPage{}, fmt.Errorf("error series for module %d: %w", module, err)
	}
	sorted := anomaly.SortByTime(series)

	page := AnomalyPage{
		RenderID:  p.newID(),
		Module:    module,
		Threshold: threshold,
	}
	if len(sorted) > 0 {
		page.SeriesStart = sorted[0].Time
		page.SeriesEnd = sorted[len(sorted)-1].Time
	}
	if start.IsZero() {
		start = page.SeriesStart
	}
	if end.IsZero() {
		end = page.SeriesEnd
	}
	page.Start, page.End = start, end

	annotated := anomaly.Annotate(anomaly.WindowedView(sorted, start, end), threshold)
	page.Annotated = annotated
	page.Series = annotated.Series
	page.Flags = annotated.Mask.Flags
	page.Count = annotated.Mask.Count
	page.Total = annotated.Mask.Total
	page.Anomalies = annotated.Anomalies()
	page.Labels = annotated.LabelCounts()
	page.Hints = p.rules.Hints(module, annotated)

	metrics.ObserveAnomalies(page.Count)
	return page, nil
}

// CompareView contrasts one column of the anomaly frame with an uploaded
// cleaned file. An empty column selects the first comparable one.
func (p *Pipeline) CompareView(ctx context.Context, module int, start, end time.Time, threshold float64, cleaned Upload, column string) (ComparePage, error) {
	view, err := p.AnomalyView(ctx, module, start, end, threshold)
	if err != nil {
		return ComparePage{}, err
	}
	result, err := p.load(ctx, cleaned, ingest.Options{})
	if err != nil {
		return ComparePage{}, fmt.Errorf("load cleaned file: %w", err)
	}

	page := ComparePage{
		RenderID:  view.RenderID,
		Module:    module,
		Source:    result.Source,
		Available: anomaly.AvailableColumns(result.Table),
	}
	if !result.Table.HasTime() {
		page.Warnings = append(page.Warnings, "cleaned file has no timestamp column; values are shown in file order")
	}
	if len(page.Available) == 0 {
		page.Warnings = append(page.Warnings, "cleaned file has no comparable numeric column")
		return page, nil
	}
	if column == "" {
		column = page.Available[0]
	}
	if !result.Table.HasColumn(column) {
		return ComparePage{}, fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}

	raw := view.Annotated.Series.Table(ErrorTimeColumn, ErrorValueColumn, ErrorFeatureColumn)
	cmp, err := anomaly.Compare(raw, result.Table.SortedByTime(), column, p.settings.CompareMaxRows)
	if err != nil {
		return ComparePage{}, err
	}
	page.Comparison = &cmp
	page.Reduced = cmp.MissingReduced()
	return page, nil
}

// InspectView profiles an uploaded table.
func (p *Pipeline) InspectView(ctx context.Context, upload Upload) (InspectPage, error) {
	result, err := p.load(ctx, upload, ingest.Options{})
	if err != nil {
		return InspectPage{}, err
	}
	return InspectPage{
		RenderID: p.newID(),
		Profile:  inspect.Build(result, p.settings.Location),
		Preview:  result.Table.Head(previewRows),
	}, nil
}

// ForecastView sends the uploaded series to the inference endpoint, holding
// out the last horizon samples for evaluation. A zero horizon defaults to
// min(6, max allowed).
func (p *Pipeline) ForecastView(ctx context.Context, upload Upload, horizon int) (ForecastPage, error) {
	if p.forecaster == nil {
		return ForecastPage{}, ErrForecastDisabled
	}
	target := p.settings.TargetColumn
	result, err := p.load(ctx, upload, ingest.Options{
		Required:    []string{target},
		TimeColumn:  p.settings.TimeColumn,
		EpochMillis: p.settings.EpochMillis,
	})
	if err != nil {
		return ForecastPage{}, err
	}
	series, err := anomaly.SeriesFrom(result.Table, target)
	if err != nil {
		return ForecastPage{}, err
	}

	cfg := p.settings.Forecast
	lo, hi, err := forecast.HorizonBounds(countFinite(series), cfg.MaxHorizon)
	if err != nil {
		return ForecastPage{}, err
	}
	if horizon == 0 {
		horizon = min(defaultHorizon, hi)
	}
	plan, err := forecast.BuildRequest(series, horizon, cfg)
	if err != nil {
		return ForecastPage{}, err
	}

	resp, err := p.forecaster.Invoke(ctx, plan.Request)
	if err != nil {
		return ForecastPage{}, err
	}
	preds, err := forecast.Predictions(resp, plan.LastInput().Time, horizon, cfg)
	if err != nil {
		return ForecastPage{}, err
	}

	page := ForecastPage{
		RenderID:    p.newID(),
		Source:      result.Source,
		Target:      target,
		Horizon:     horizon,
		MinHorizon:  lo,
		MaxHorizon:  hi,
		Shape:       resp.Shape.String(),
		Request:     plan.Request,
		Input:       plan.Input,
		Holdout:     plan.Holdout,
		Predictions: preds,
	}
	if result.DroppedRows > 0 {
		page.Warnings = append(page.Warnings, fmt.Sprintf("%d rows with unparseable timestamps were dropped", result.DroppedRows))
	}
	for _, pred := range preds {
		page.TotalKWh += pred.Value
		page.TotalBill += pred.Bill
		page.TotalCarbon += pred.Carbon
	}

	eval, err := forecast.Evaluate(plan.Holdout, preds)
	switch {
	case err == nil:
		page.Evaluation = &eval
	case errors.Is(err, forecast.ErrIncompleteJoin):
		p.logger.Warn("forecast evaluation skipped", slog.Any("error", err))
		page.Warnings = append(page.Warnings, err.Error())
	default:
		return ForecastPage{}, err
	}
	return page, nil
}

// BatchForecastView validates uploaded "module (N).csv" files and sends them
// to the endpoint in groups of batchSize modules. Unusable files are skipped.
func (p *Pipeline) BatchForecastView(ctx context.Context, files []Upload, batchSize int) (BatchPage, error) {
	if p.forecaster == nil {
		return BatchPage{}, ErrForecastDisabled
	}
	if batchSize <= 0 {
		batchSize = p.settings.BatchSize
	}

	page := BatchPage{RenderID: p.newID()}
	frames := make([]forecast.ModuleFrame, 0, len(files))
	seen := make(map[int]struct{}, len(files))
	for _, file := range files {
		module, ok := ingest.ParseModuleFileName(file.Name, p.HasModule)
		if !ok {
			page.Skipped = append(page.Skipped, SkippedFile{Name: file.Name, Reason: "name must be \"module (N).csv\" for a configured module"})
			continue
		}
		if _, dup := seen[module]; dup {
			page.Skipped = append(page.Skipped, SkippedFile{Name: file.Name, Reason: fmt.Sprintf("module %d uploaded twice", module)})
			continue
		}
		result, err := p.loader.LoadUpload(ctx, file.Name, file.Data, ingest.Options{Required: forecast.BatchRequiredColumns})
		if err != nil {
			p.logger.Warn("batch file skipped", slog.String("file", file.Name), slog.Any("error", err))
			page.Skipped = append(page.Skipped, SkippedFile{Name: file.Name, Reason: err.Error()})
			continue
		}
		seen[module] = struct{}{}
		frames = append(frames, forecast.PrepareModule(result.Table, result.Rename, module))
		page.Modules = append(page.Modules, module)
	}
	if len(frames) == 0 {
		return BatchPage{}, fmt.Errorf("%w: %d of %d files skipped", ErrNoModuleFiles, len(page.Skipped), len(files))
	}
	sort.Ints(page.Modules)

	result, err := p.forecaster.PredictBatches(ctx, frames, batchSize)
	if err != nil {
		return BatchPage{}, err
	}
	page.Result = result
	return page, nil
}

func (p *Pipeline) load(ctx context.Context, upload Upload, opts ingest.Options) (*models.IngestResult, error) {
	opts.ArchiveEntry = upload.ArchiveEntry
	switch {
	case upload.URL != "":
		resolved, err := ingest.ResolveDriveURL(upload.URL)
		if err != nil {
			return nil, err
		}
		return p.loader.LoadTable(ctx, p.loader.URL(resolved), opts)
	case len(upload.Data) > 0:
		return p.loader.LoadUpload(ctx, upload.Name, upload.Data, opts)
	default:
		return nil, ErrNoUpload
	}
}

func countFinite(series anomaly.Series) int {
	n := 0
	for _, pt := range series {
		if !math.IsNaN(pt.Value) && !math.IsInf(pt.Value, 0) {
			n++
		}
	}
	return n
}
