package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
)

type instance struct {
	Start  string    `json:"start"`
	Target []float64 `json:"target"`
}

type request struct {
	Instances []instance `json:"instances"`
}

// The mock answers every JSON request with a persistence forecast (the last
// input value repeated) of MOCK_HORIZON steps, and every CSV batch with one
// prediction per row keyed by module. A ?horizon= query overrides the step count.
func main() {
	horizon := 6
	if v, err := strconv.Atoi(os.Getenv("MOCK_HORIZON")); err == nil && v > 0 {
		horizon = v
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/invocations", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.Header.Get("Content-Type") == "text/csv" {
			writeBatch(w, body)
			return
		}

		var req request
		if err := json.Unmarshal(body, &req); err != nil || len(req.Instances) == 0 || len(req.Instances[0].Target) == 0 {
			http.Error(w, "expected instances[0].target", http.StatusBadRequest)
			return
		}
		steps := horizon
		if v, err := strconv.Atoi(r.URL.Query().Get("horizon")); err == nil && v > 0 {
			steps = v
		}
		target := req.Instances[0].Target
		last := target[len(target)-1]
		mean := make([]float64, steps)
		for i := range mean {
			mean[i] = last
		}
		writeJSON(w, map[string]any{"predictions": []map[string]any{{"mean": mean}}})
	})

	logger := log.New(log.Writer(), "forecast-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeBatch(w http.ResponseWriter, body []byte) {
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	if err != nil || len(records) < 1 {
		http.Error(w, "expected csv with header", http.StatusBadRequest)
		return
	}
	header := records[0]
	moduleIdx, powerIdx := -1, -1
	for i, col := range header {
		switch col {
		case "module(equipment)":
			moduleIdx = i
		case "activePower":
			powerIdx = i
		}
	}
	if moduleIdx < 0 {
		http.Error(w, "missing module(equipment) column", http.StatusBadRequest)
		return
	}

	out := make([]map[string]any, 0, len(records)-1)
	for _, row := range records[1:] {
		prediction := 0.0
		if powerIdx >= 0 {
			prediction, _ = strconv.ParseFloat(row[powerIdx], 64)
		}
		out = append(out, map[string]any{
			"module(equipment)": row[moduleIdx],
			"prediction":        prediction,
		})
	}
	writeJSON(w, out)
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
