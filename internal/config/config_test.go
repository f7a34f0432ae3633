package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WATTLENS_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Anomaly.DefaultThreshold != 1.0 {
		t.Fatalf("unexpected default threshold %v", cfg.Anomaly.DefaultThreshold)
	}
	if len(cfg.Data.Encodings) != 4 || cfg.Data.Encodings[2] != "cp949" {
		t.Fatalf("unexpected encodings %v", cfg.Data.Encodings)
	}
	if !cfg.Data.HasModule(15) || cfg.Data.HasModule(7) {
		t.Fatalf("unexpected module set %v", cfg.Data.Modules)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wattlens.yaml")
	if err := os.WriteFile(path, []byte(`server:
  httpAddress: ":9090"
data:
  dir: "/srv/csv"
  modules: [1, 2]
forecast:
  endpoint: "http://inference.local/invocations"
  timeout: 5s
`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("WATTLENS_MODULES", "3, 4,5")
	t.Setenv("WATTLENS_FORECAST_TIMEOUT", "12s")
	t.Setenv("WATTLENS_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddress != ":9090" || cfg.Data.Dir != "/srv/csv" {
		t.Fatalf("file values not applied: %+v", cfg.Server)
	}
	if len(cfg.Data.Modules) != 3 || cfg.Data.Modules[0] != 3 {
		t.Fatalf("env modules not applied: %v", cfg.Data.Modules)
	}
	if cfg.Forecast.Timeout != 12*time.Second {
		t.Fatalf("env timeout not applied: %v", cfg.Forecast.Timeout)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging")
	}
	if cfg.Forecast.MaxHorizon != 168 {
		t.Fatalf("defaults should survive partial file, got horizon %d", cfg.Forecast.MaxHorizon)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Setenv("WATTLENS_TIMEZONE", "Mars/Olympus_Mons")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected timezone validation error")
	}
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "wattlens.yaml"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if cfg.Forecast.TimeColumn != "id" || !cfg.Forecast.EpochMillis {
		t.Fatalf("unexpected forecast time settings: %+v", cfg.Forecast)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Fatalf("unexpected cache ttl %v", cfg.Cache.TTL)
	}
}

func TestLoadSageMakerSettings(t *testing.T) {
	t.Setenv("WATTLENS_CONFIG", "")
	t.Setenv("WATTLENS_FORECAST_ENDPOINT_NAME", "tft-hourly")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Forecast.EndpointName != "tft-hourly" || cfg.Forecast.Region != "ap-northeast-2" {
		t.Fatalf("unexpected sagemaker settings: %+v", cfg.Forecast)
	}

	t.Setenv("WATTLENS_FORECAST_REGION", "us-east-1")
	t.Setenv("WATTLENS_FORECAST_ENDPOINT", "http://localhost:8090/invocations")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when both endpoint and endpointName are set")
	}
}
