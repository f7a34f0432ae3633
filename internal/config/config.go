package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the dashboard backend.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Anomaly  AnomalyConfig  `yaml:"anomaly"`
	Forecast ForecastConfig `yaml:"forecast"`
	Logging  LoggingConfig  `yaml:"logging"`
	Rules    RulesConfig    `yaml:"rules"`
	Cache    CacheConfig    `yaml:"cache"`
}

// ServerConfig controls the HTTP, gRPC and metrics listeners.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
}

// DataConfig describes where module CSVs live and how they are decoded.
type DataConfig struct {
	Dir                string        `yaml:"dir"`
	Modules            []int         `yaml:"modules"`
	Timezone           string        `yaml:"timezone"`
	Encodings          []string      `yaml:"encodings"`
	TimeVocabulary     []string      `yaml:"timeVocabulary"`
	CanonicalTimestamp string        `yaml:"canonicalTimestamp"`
	StagingDir         string        `yaml:"stagingDir"`
	FetchTimeout       time.Duration `yaml:"fetchTimeout"`
}

// AnomalyConfig holds defaults for the threshold pages.
type AnomalyConfig struct {
	DefaultThreshold float64 `yaml:"defaultThreshold"`
	SyntheticSeed    int64   `yaml:"syntheticSeed"`
	CompareMaxRows   int     `yaml:"compareMaxRows"`
}

// ForecastConfig configures the external inference endpoint and derived figures.
type ForecastConfig struct {
	// Endpoint is a plain HTTP invocation URL, such as a local model server.
	Endpoint string `yaml:"endpoint"`
	// EndpointName selects a SageMaker endpoint in Region; Profile optionally
	// names a shared AWS config profile.
	EndpointName string        `yaml:"endpointName"`
	Region       string        `yaml:"region"`
	Profile      string        `yaml:"profile"`
	Timeout      time.Duration `yaml:"timeout"`
	TargetColumn string        `yaml:"targetColumn"`
	TimeColumn   string        `yaml:"timeColumn"`
	EpochMillis  bool          `yaml:"epochMillis"`
	MaxHorizon   int           `yaml:"maxHorizon"`
	NumSamples   int           `yaml:"numSamples"`
	RatePerKWh   float64       `yaml:"ratePerKWh"`
	CarbonPerKWh float64       `yaml:"carbonPerKWh"`
	BatchSize    int           `yaml:"batchSize"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls loading of the anomaly hint rule pack.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls memoization of parsed inputs.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxEntries int           `yaml:"maxEntries"`
	TTL        time.Duration `yaml:"ttl"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("WATTLENS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location resolves the configured timezone, defaulting to Asia/Seoul where the
// RTU exports are recorded.
func (c DataConfig) Location() (*time.Location, error) {
	name := c.Timezone
	if name == "" {
		name = "Asia/Seoul"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// HasModule reports whether n is one of the configured equipment modules.
func (c DataConfig) HasModule(n int) bool {
	for _, m := range c.Modules {
		if m == n {
			return true
		}
	}
	return false
}

func (c Config) validate() error {
	if len(c.Data.Modules) == 0 {
		return fmt.Errorf("config: data.modules must not be empty")
	}
	if len(c.Data.Encodings) == 0 {
		return fmt.Errorf("config: data.encodings must not be empty")
	}
	if c.Forecast.Endpoint != "" && c.Forecast.EndpointName != "" {
		return fmt.Errorf("config: set either forecast.endpoint or forecast.endpointName, not both")
	}
	if c.Forecast.MaxHorizon < 1 {
		return fmt.Errorf("config: forecast.maxHorizon must be >= 1")
	}
	if _, err := c.Data.Location(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8080",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			MaxUploadBytes:  64 << 20,
		},
		Data: DataConfig{
			Dir:                "csv",
			Modules:            []int{1, 2, 3, 4, 5, 11, 12, 13, 14, 15, 16, 17, 18},
			Timezone:           "Asia/Seoul",
			Encodings:          []string{"utf-8", "utf-8-sig", "cp949", "euc-kr"},
			TimeVocabulary:     []string{"time", "date"},
			CanonicalTimestamp: "timestamp",
			StagingDir:         "temp_uploads",
			FetchTimeout:       30 * time.Second,
		},
		Anomaly: AnomalyConfig{
			DefaultThreshold: 1.0,
			CompareMaxRows:   5000,
		},
		Forecast: ForecastConfig{
			Region:       "ap-northeast-2",
			Timeout:      60 * time.Second,
			TargetColumn: "hourly_pow",
			MaxHorizon:   168,
			NumSamples:   50,
			RatePerKWh:   180,
			CarbonPerKWh: 0.424,
			BatchSize:    3,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/hints.yaml"},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 32,
			TTL:        30 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WATTLENS_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("WATTLENS_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("WATTLENS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("WATTLENS_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Server.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("WATTLENS_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("WATTLENS_MODULES"); v != "" {
		if modules, err := parseIntList(v); err == nil {
			cfg.Data.Modules = modules
		}
	}
	if v := os.Getenv("WATTLENS_TIMEZONE"); v != "" {
		cfg.Data.Timezone = v
	}
	if v := os.Getenv("WATTLENS_ENCODINGS"); v != "" {
		cfg.Data.Encodings = splitList(v)
	}
	if v := os.Getenv("WATTLENS_STAGING_DIR"); v != "" {
		cfg.Data.StagingDir = v
	}
	if v := os.Getenv("WATTLENS_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Data.FetchTimeout = d
		}
	}
	if v := os.Getenv("WATTLENS_ANOMALY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Anomaly.DefaultThreshold = f
		}
	}
	if v := os.Getenv("WATTLENS_SYNTHETIC_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Anomaly.SyntheticSeed = n
		}
	}
	if v := os.Getenv("WATTLENS_FORECAST_ENDPOINT"); v != "" {
		cfg.Forecast.Endpoint = v
	}
	if v := os.Getenv("WATTLENS_FORECAST_ENDPOINT_NAME"); v != "" {
		cfg.Forecast.EndpointName = v
	}
	if v := os.Getenv("WATTLENS_FORECAST_REGION"); v != "" {
		cfg.Forecast.Region = v
	}
	if v := os.Getenv("WATTLENS_FORECAST_PROFILE"); v != "" {
		cfg.Forecast.Profile = v
	}
	if v := os.Getenv("WATTLENS_FORECAST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Forecast.Timeout = d
		}
	}
	if v := os.Getenv("WATTLENS_FORECAST_TARGET"); v != "" {
		cfg.Forecast.TargetColumn = v
	}
	if v := os.Getenv("WATTLENS_FORECAST_TIME_COLUMN"); v != "" {
		cfg.Forecast.TimeColumn = v
	}
	if v := os.Getenv("WATTLENS_FORECAST_EPOCH_MILLIS"); v != "" {
		cfg.Forecast.EpochMillis = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("WATTLENS_FORECAST_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Forecast.BatchSize = n
		}
	}
	if v := os.Getenv("WATTLENS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WATTLENS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("WATTLENS_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("WATTLENS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("WATTLENS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntList(v string) ([]int, error) {
	parts := splitList(v)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parse module %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
