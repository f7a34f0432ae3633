package services

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/wattlens/wattlens/internal/anomaly"
	"github.com/wattlens/wattlens/internal/engine"
	"github.com/wattlens/wattlens/internal/ingest"
	"github.com/wattlens/wattlens/internal/utils"
)

type stubErrors struct{}

func (stubErrors) Errors(ctx context.Context, module int) (anomaly.Series, error) {
	t0 := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	return anomaly.Series{
		{Time: t0, Value: 0.4, Label: "activePower"},
		{Time: t0.Add(10 * time.Minute), Value: 1.3, Label: "current_S"},
		{Time: t0.Add(20 * time.Minute), Value: 0.9, Label: "current_S"},
	}, nil
}

func newTestService(t *testing.T) *DashboardService {
	t.Helper()
	loader, err := ingest.NewNormalizer(ingest.Settings{}, nil, nil)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	pipeline := engine.NewPipeline(nil, engine.Settings{Modules: []int{5, 13}}, loader, stubErrors{}, nil, nil)
	return NewDashboardService(nil, pipeline, 1.0)
}

func TestAnomaliesUsesDefaultThreshold(t *testing.T) {
	service := newTestService(t)

	page, err := service.Anomalies(context.Background(), AnomalyQuery{Module: 5})
	if err != nil {
		t.Fatalf("anomalies: %v", err)
	}
	if page.Threshold != 1.0 || page.Count != 1 {
		t.Fatalf("expected 1 anomaly at threshold 1.0, got %d at %v", page.Count, page.Threshold)
	}

	custom := 0.5
	page, err = service.Anomalies(context.Background(), AnomalyQuery{Module: 5, Threshold: &custom})
	if err != nil {
		t.Fatalf("anomalies: %v", err)
	}
	if page.Count != 2 {
		t.Fatalf("expected 2 anomalies at threshold 0.5, got %d", page.Count)
	}
	if service.latencies.Count() != 2 {
		t.Fatalf("expected two latency samples, got %d", service.latencies.Count())
	}
}

func TestAnomaliesRejectsNaNThreshold(t *testing.T) {
	service := newTestService(t)
	nan := math.NaN()

	_, err := service.Anomalies(context.Background(), AnomalyQuery{Module: 5, Threshold: &nan})
	if !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}
	var appErr *utils.AppError
	if !errors.As(err, &appErr) || appErr.Op != "services.anomaly" {
		t.Fatalf("expected AppError from services.anomaly, got %v", err)
	}
}

func TestUnknownModuleMessage(t *testing.T) {
	service := newTestService(t)

	_, err := service.Anomalies(context.Background(), AnomalyQuery{Module: 2})
	if !errors.Is(err, engine.ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
	if msg := utils.UserMessage(err, ""); msg != "unknown module" {
		t.Fatalf("unexpected user message %q", msg)
	}
}

func TestExportAnomalies(t *testing.T) {
	service := newTestService(t)
	service.now = func() time.Time { return time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC) }

	data, contentType, err := service.ExportAnomalies(context.Background(), AnomalyQuery{Module: 13}, "XLSX")
	if err != nil {
		t.Fatalf("xlsx export: %v", err)
	}
	if contentType != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" || !bytes.HasPrefix(data, []byte("PK")) {
		t.Fatalf("unexpected xlsx export %q (%d bytes)", contentType, len(data))
	}

	data, contentType, err = service.ExportAnomalies(context.Background(), AnomalyQuery{Module: 13}, FormatPDF)
	if err != nil {
		t.Fatalf("pdf export: %v", err)
	}
	if contentType != "application/pdf" || !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("unexpected pdf export %q", contentType)
	}

	if _, _, err := service.ExportAnomalies(context.Background(), AnomalyQuery{Module: 13}, "csv"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestForecastWithoutEndpoint(t *testing.T) {
	service := newTestService(t)

	_, err := service.Forecast(context.Background(), engine.Upload{Name: "a.csv", Data: []byte("id,hourly_pow\n")}, 1)
	if !errors.Is(err, engine.ErrForecastDisabled) {
		t.Fatalf("expected ErrForecastDisabled, got %v", err)
	}
	if msg := utils.UserMessage(err, ""); msg != "the forecast endpoint is not configured" {
		t.Fatalf("unexpected user message %q", msg)
	}
}
