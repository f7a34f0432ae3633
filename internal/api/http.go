package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/wattlens/wattlens/internal/anomaly"
	"github.com/wattlens/wattlens/internal/engine"
	"github.com/wattlens/wattlens/internal/forecast"
	"github.com/wattlens/wattlens/internal/ingest"
	"github.com/wattlens/wattlens/internal/services"
	"github.com/wattlens/wattlens/internal/utils"
)

// Dashboard is the service behaviour the HTTP API exposes.
type Dashboard interface {
	Modules() []int
	DefaultThreshold() float64
	Equipment(ctx context.Context, module int, fromDay, toDay time.Time) (engine.EquipmentPage, error)
	Anomalies(ctx context.Context, q services.AnomalyQuery) (engine.AnomalyPage, error)
	Compare(ctx context.Context, q services.AnomalyQuery, cleaned engine.Upload, column string) (engine.ComparePage, error)
	Inspect(ctx context.Context, upload engine.Upload) (engine.InspectPage, error)
	Forecast(ctx context.Context, upload engine.Upload, horizon int) (engine.ForecastPage, error)
	BatchForecast(ctx context.Context, files []engine.Upload, batchSize int) (engine.BatchPage, error)
	ExportAnomalies(ctx context.Context, q services.AnomalyQuery, format string) ([]byte, string, error)
	PredictionsCSV(page engine.ForecastPage) ([]byte, error)
	BatchCSV(page engine.BatchPage) ([]byte, error)
}

// errBadRequest marks malformed query or form values.
var errBadRequest = errors.New("bad request")

// HTTPHandler serves the dashboard pages as JSON.
type HTTPHandler struct {
	dashboard Dashboard
	logger    *slog.Logger
	loc       *time.Location
	maxUpload int64
}

// NewHTTPHandler builds the page API. Query times are read in loc.
func NewHTTPHandler(dashboard Dashboard, loc *time.Location, maxUpload int64, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if maxUpload <= 0 {
		maxUpload = 64 << 20
	}
	return &HTTPHandler{dashboard: dashboard, logger: logger, loc: loc, maxUpload: maxUpload}
}

// Router registers every route on a gorilla/mux router.
func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/modules", h.modules).Methods(http.MethodGet)
	v1.HandleFunc("/modules/{module:[0-9]+}/equipment", h.equipment).Methods(http.MethodGet)
	v1.HandleFunc("/modules/{module:[0-9]+}/anomalies", h.anomalies).Methods(http.MethodGet)
	v1.HandleFunc("/modules/{module:[0-9]+}/anomalies/export.{format}", h.exportAnomalies).Methods(http.MethodGet)
	v1.HandleFunc("/modules/{module:[0-9]+}/anomalies/compare", h.compare).Methods(http.MethodPost)
	v1.HandleFunc("/inspect", h.inspect).Methods(http.MethodPost)
	v1.HandleFunc("/forecast", h.forecast).Methods(http.MethodPost)
	v1.HandleFunc("/forecast/batch", h.batchForecast).Methods(http.MethodPost)
	return r
}

// Handler wraps the router with request logging and panic recovery.
func (h *HTTPHandler) Handler(accessLog io.Writer) http.Handler {
	var handler http.Handler = h.Router()
	handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(handler)
	if accessLog != nil {
		handler = handlers.LoggingHandler(accessLog, handler)
	}
	return handler
}

func (h *HTTPHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) modules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"modules":           h.dashboard.Modules(),
		"default_threshold": h.dashboard.DefaultThreshold(),
	})
}

func (h *HTTPHandler) equipment(w http.ResponseWriter, r *http.Request) {
	module, err := moduleVar(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	from, err := h.dayParam(r, "from")
	if err != nil {
		h.writeError(w, err)
		return
	}
	to, err := h.dayParam(r, "to")
	if err != nil {
		h.writeError(w, err)
		return
	}
	page, err := h.dashboard.Equipment(r.Context(), module, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) anomalies(w http.ResponseWriter, r *http.Request) {
	q, err := h.anomalyQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	page, err := h.dashboard.Anomalies(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) exportAnomalies(w http.ResponseWriter, r *http.Request) {
	q, err := h.anomalyQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	format := mux.Vars(r)["format"]
	data, contentType, err := h.dashboard.ExportAnomalies(r.Context(), q, format)
	if err != nil {
		h.writeError(w, err)
		return
	}
	filename := fmt.Sprintf("anomalies_module%d.%s", q.Module, strings.ToLower(format))
	writeDownload(w, contentType, filename, data)
}

func (h *HTTPHandler) compare(w http.ResponseWriter, r *http.Request) {
	q, err := h.anomalyQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	uploads, err := h.readUploads(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	page, err := h.dashboard.Compare(r.Context(), q, first(uploads), formValue(r, "column"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) inspect(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.readUploads(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	page, err := h.dashboard.Inspect(r.Context(), first(uploads))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) forecast(w http.ResponseWriter, r *http.Request) {
	horizon, err := intParam(r, "horizon")
	if err != nil {
		h.writeError(w, err)
		return
	}
	uploads, err := h.readUploads(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	page, err := h.dashboard.Forecast(r.Context(), first(uploads), horizon)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		data, err := h.dashboard.PredictionsCSV(page)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeDownload(w, "text/csv; charset=utf-8", "forecast.csv", data)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) batchForecast(w http.ResponseWriter, r *http.Request) {
	batchSize, err := intParam(r, "batch_size")
	if err != nil {
		h.writeError(w, err)
		return
	}
	uploads, err := h.readUploads(w, r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	page, err := h.dashboard.BatchForecast(r.Context(), uploads, batchSize)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		data, err := h.dashboard.BatchCSV(page)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeDownload(w, "text/csv; charset=utf-8", "forecast_batch.csv", data)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) anomalyQuery(r *http.Request) (services.AnomalyQuery, error) {
	module, err := moduleVar(r)
	if err != nil {
		return services.AnomalyQuery{}, err
	}
	q := services.AnomalyQuery{Module: module}
	if q.Start, err = h.timeParam(r, "start"); err != nil {
		return services.AnomalyQuery{}, err
	}
	if q.End, err = h.timeParam(r, "end"); err != nil {
		return services.AnomalyQuery{}, err
	}
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return services.AnomalyQuery{}, fmt.Errorf("%w: threshold %q", errBadRequest, raw)
		}
		q.Threshold = &threshold
	}
	return q, nil
}

// readUploads accepts a multipart form (files under "file", an optional "url"
// and "entry") or a raw body named by the "name" query parameter.
func (h *HTTPHandler) readUploads(w http.ResponseWriter, r *http.Request) ([]engine.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	entry := r.URL.Query().Get("entry")

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if link := r.URL.Query().Get("url"); link != "" {
			return []engine.Upload{{URL: link, ArchiveEntry: entry}}, nil
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, nil
		}
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "upload.csv"
		}
		return []engine.Upload{{Name: name, Data: data, ArchiveEntry: entry}}, nil
	}

	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return nil, err
	}
	if v := r.FormValue("entry"); v != "" {
		entry = v
	}
	var uploads []engine.Upload
	if link := r.FormValue("url"); link != "" {
		uploads = append(uploads, engine.Upload{URL: link, ArchiveEntry: entry})
	}
	for _, header := range r.MultipartForm.File["file"] {
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, engine.Upload{Name: header.Filename, Data: data, ArchiveEntry: entry})
	}
	return uploads, nil
}

func (h *HTTPHandler) timeParam(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := utils.ParseLocalTime(raw, nil, h.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", errBadRequest, key, err)
	}
	return t, nil
}

func (h *HTTPHandler) dayParam(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := utils.ParseDay(raw, h.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", errBadRequest, key, err)
	}
	return t, nil
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.Int("status", status), slog.Any("error", err))
	}
	msg := utils.UserMessage(err, "")
	if msg == "" {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg, "detail": err.Error()})
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		encErr    *ingest.EncodingError
		choiceErr *ingest.ArchiveChoiceError
		schemaErr *ingest.SchemaMismatchError
		shapeErr  *forecast.UnrecognizedShapeError
		sizeErr   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &sizeErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, engine.ErrUnknownModule):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, services.ErrInvalidThreshold),
		errors.Is(err, services.ErrUnsupportedFormat),
		errors.As(err, &encErr),
		errors.Is(err, ingest.ErrEmptyArchive),
		errors.Is(err, ingest.ErrInvalidArchive),
		errors.Is(err, ingest.ErrMalformedTable),
		errors.As(err, &choiceErr),
		errors.As(err, &schemaErr),
		errors.Is(err, ingest.ErrInvalidURL),
		errors.Is(err, anomaly.ErrNoTimeAxis),
		errors.Is(err, engine.ErrUnknownColumn),
		errors.Is(err, engine.ErrNoUpload),
		errors.Is(err, engine.ErrNoModuleFiles),
		errors.Is(err, forecast.ErrInsufficientData),
		errors.Is(err, forecast.ErrHorizonOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrForecastDisabled):
		return http.StatusServiceUnavailable
	case errors.As(err, &shapeErr), errors.Is(err, forecast.ErrHorizonMismatch):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func moduleVar(r *http.Request) (int, error) {
	raw := mux.Vars(r)["module"]
	module, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: module %q", errBadRequest, raw)
	}
	return module, nil
}

func intParam(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s %q", errBadRequest, key, raw)
	}
	return n, nil
}

func formValue(r *http.Request, key string) string {
	if r.MultipartForm != nil {
		if v := r.FormValue(key); v != "" {
			return v
		}
	}
	return r.URL.Query().Get(key)
}

func first(uploads []engine.Upload) engine.Upload {
	if len(uploads) == 0 {
		return engine.Upload{}
	}
	return uploads[0]
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDownload(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
