package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/wattlens/wattlens/internal/anomaly"
	"github.com/wattlens/wattlens/internal/engine"
	"github.com/wattlens/wattlens/internal/export"
	"github.com/wattlens/wattlens/internal/forecast"
	"github.com/wattlens/wattlens/internal/ingest"
	"github.com/wattlens/wattlens/internal/metrics"
	"github.com/wattlens/wattlens/internal/utils"
)

// Page names used for metrics and logs.
const (
	PageEquipment = "equipment"
	PageAnomaly   = "anomaly"
	PageCompare   = "compare"
	PageInspect   = "inspect"
	PageForecast  = "forecast"
	PageBatch     = "forecast_batch"
	PageExport    = "anomaly_export"
)

// Export formats for anomaly reports.
const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

var (
	// ErrInvalidThreshold is returned for NaN or infinite thresholds.
	ErrInvalidThreshold = errors.New("threshold must be a finite number")
	// ErrUnsupportedFormat is returned for unknown export formats.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// AnomalyQuery selects a module's error window. Zero bounds use the series
// extent; a nil threshold uses the configured default.
type AnomalyQuery struct {
	Module    int
	Start     time.Time
	End       time.Time
	Threshold *float64
}

// DashboardService is the facade the transports call. It times every render
// and attaches a user-facing message to failures.
type DashboardService struct {
	logger    *slog.Logger
	pipeline  *engine.Pipeline
	threshold float64
	latencies *utils.LatencyTracker
	now       func() time.Time
}

// NewDashboardService constructs the dashboard facade.
func NewDashboardService(logger *slog.Logger, pipeline *engine.Pipeline, defaultThreshold float64) *DashboardService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardService{
		logger:    logger,
		pipeline:  pipeline,
		threshold: defaultThreshold,
		latencies: utils.NewLatencyTracker(1024),
		now:       time.Now,
	}
}

// Modules lists the selectable equipment modules.
func (s *DashboardService) Modules() []int {
	return s.pipeline.Modules()
}

// DefaultThreshold returns the threshold used when a query sets none.
func (s *DashboardService) DefaultThreshold() float64 {
	return s.threshold
}

// Equipment renders the per-module sensor charts.
func (s *DashboardService) Equipment(ctx context.Context, module int, fromDay, toDay time.Time) (engine.EquipmentPage, error) {
	start := time.Now()
	page, err := s.pipeline.EquipmentView(ctx, module, fromDay, toDay)
	return page, s.observe(PageEquipment, start, err)
}

// Anomalies renders the threshold page.
func (s *DashboardService) Anomalies(ctx context.Context, q AnomalyQuery) (engine.AnomalyPage, error) {
	start := time.Now()
	threshold, err := s.resolveThreshold(q.Threshold)
	if err != nil {
		return engine.AnomalyPage{}, s.observe(PageAnomaly, start, err)
	}
	page, err := s.pipeline.AnomalyView(ctx, q.Module, q.Start, q.End, threshold)
	return page, s.observe(PageAnomaly, start, err)
}

// Compare renders the before/after view of an uploaded cleaned file.
func (s *DashboardService) Compare(ctx context.Context, q AnomalyQuery, cleaned engine.Upload, column string) (engine.ComparePage, error) {
	start := time.Now()
	threshold, err := s.resolveThreshold(q.Threshold)
	if err != nil {
		return engine.ComparePage{}, s.observe(PageCompare, start, err)
	}
	page, err := s.pipeline.CompareView(ctx, q.Module, q.Start, q.End, threshold, cleaned, column)
	return page, s.observe(PageCompare, start, err)
}

// Inspect profiles an uploaded table.
func (s *DashboardService) Inspect(ctx context.Context, upload engine.Upload) (engine.InspectPage, error) {
	start := time.Now()
	page, err := s.pipeline.InspectView(ctx, upload)
	return page, s.observe(PageInspect, start, err)
}

// Forecast runs one forecast against the inference endpoint.
func (s *DashboardService) Forecast(ctx context.Context, upload engine.Upload, horizon int) (engine.ForecastPage, error) {
	start := time.Now()
	page, err := s.pipeline.ForecastView(ctx, upload, horizon)
	return page, s.observe(PageForecast, start, err)
}

// BatchForecast sends module files to the endpoint in batches.
func (s *DashboardService) BatchForecast(ctx context.Context, files []engine.Upload, batchSize int) (engine.BatchPage, error) {
	start := time.Now()
	page, err := s.pipeline.BatchForecastView(ctx, files, batchSize)
	return page, s.observe(PageBatch, start, err)
}

// ExportAnomalies renders the anomaly page as an xlsx or pdf document and
// returns its bytes with the content type.
func (s *DashboardService) ExportAnomalies(ctx context.Context, q AnomalyQuery, format string) ([]byte, string, error) {
	start := time.Now()
	format = strings.ToLower(format)
	if format != FormatXLSX && format != FormatPDF {
		return nil, "", s.observe(PageExport, start, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format))
	}
	page, err := s.Anomalies(ctx, q)
	if err != nil {
		return nil, "", err
	}

	report := export.AnomalyReport{
		RenderID:    page.RenderID,
		Module:      page.Module,
		Threshold:   page.Threshold,
		Start:       page.Start,
		End:         page.End,
		Annotated:   page.Annotated,
		Hints:       page.Hints,
		GeneratedAt: s.now(),
	}
	var (
		data        []byte
		contentType string
	)
	switch format {
	case FormatXLSX:
		data, err = export.AnomalyXLSX(report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		data, err = export.AnomalyPDF(report)
		contentType = "application/pdf"
	}
	return data, contentType, s.observe(PageExport, start, err)
}

// PredictionsCSV renders forecast predictions as a CSV download.
func (s *DashboardService) PredictionsCSV(page engine.ForecastPage) ([]byte, error) {
	var buf bytes.Buffer
	if err := export.PredictionsCSV(&buf, page.Target, page.Predictions); err != nil {
		return nil, utils.NewAppError("services.PredictionsCSV", "could not build the prediction download", err)
	}
	return buf.Bytes(), nil
}

// BatchCSV renders combined batch records as a CSV download.
func (s *DashboardService) BatchCSV(page engine.BatchPage) ([]byte, error) {
	var buf bytes.Buffer
	if err := export.RecordsCSV(&buf, page.Result.Columns, page.Result.Records); err != nil {
		return nil, utils.NewAppError("services.BatchCSV", "could not build the batch download", err)
	}
	return buf.Bytes(), nil
}

// LatencyP95 returns the current p95 render latency.
func (s *DashboardService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *DashboardService) resolveThreshold(threshold *float64) (float64, error) {
	if threshold == nil {
		return s.threshold, nil
	}
	if math.IsNaN(*threshold) || math.IsInf(*threshold, 0) {
		return 0, ErrInvalidThreshold
	}
	return *threshold, nil
}

func (s *DashboardService) observe(page string, start time.Time, err error) error {
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveRender(page, duration, metrics.OutcomeError)
		s.logger.Error("page render failed", slog.String("page", page), slog.Any("error", err))
		return utils.NewAppError("services."+page, userMessage(err), err)
	}
	s.latencies.Observe(duration)
	metrics.ObserveRender(page, duration, metrics.OutcomeSuccess)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("render latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
	return nil
}

// userMessage maps pipeline errors to the text a dashboard page shows.
func userMessage(err error) string {
	var (
		encErr    *ingest.EncodingError
		choiceErr *ingest.ArchiveChoiceError
		schemaErr *ingest.SchemaMismatchError
		shapeErr  *forecast.UnrecognizedShapeError
	)
	switch {
	case errors.As(err, &encErr):
		return fmt.Sprintf("could not decode the file with any of: %s", strings.Join(encErr.Tried, ", "))
	case errors.Is(err, ingest.ErrEmptyArchive):
		return "the archive holds no csv, tsv or txt file"
	case errors.Is(err, ingest.ErrInvalidArchive):
		return "the zip archive is damaged or not a zip file"
	case errors.Is(err, ingest.ErrMalformedTable):
		return "the file is not a readable csv table"
	case errors.As(err, &choiceErr):
		return fmt.Sprintf("choose one archive entry: %s", strings.Join(choiceErr.Candidates, ", "))
	case errors.As(err, &schemaErr):
		return fmt.Sprintf("missing required columns: %s", strings.Join(schemaErr.Missing, ", "))
	case errors.Is(err, ingest.ErrInvalidURL):
		return "the link is not a valid http(s) or Google Drive file link"
	case errors.Is(err, anomaly.ErrNoTimeAxis):
		return "the data has no valid timestamp column"
	case errors.Is(err, engine.ErrUnknownModule):
		return "unknown module"
	case errors.Is(err, engine.ErrUnknownColumn):
		return "the selected column is not in the data"
	case errors.Is(err, engine.ErrNoUpload):
		return "upload a file or enter a link"
	case errors.Is(err, engine.ErrNoModuleFiles):
		return "no uploaded file is a usable \"module (N).csv\""
	case errors.Is(err, engine.ErrForecastDisabled):
		return "the forecast endpoint is not configured"
	case errors.Is(err, forecast.ErrInsufficientData):
		return "not enough data points to forecast"
	case errors.Is(err, forecast.ErrHorizonOutOfRange):
		return "the forecast horizon is outside the allowed range"
	case errors.Is(err, forecast.ErrHorizonMismatch):
		return "the forecast returned a different number of steps than requested"
	case errors.As(err, &shapeErr):
		return "the forecast response has an unrecognized shape"
	case errors.Is(err, ErrInvalidThreshold):
		return "threshold must be a finite number"
	case errors.Is(err, ErrUnsupportedFormat):
		return "export format must be xlsx or pdf"
	case errors.Is(err, context.DeadlineExceeded):
		return "the request timed out"
	default:
		return "the page could not be rendered"
	}
}
