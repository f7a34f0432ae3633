package forecast

import (
	"errors"
	"fmt"
	"math"

	"github.com/wattlens/wattlens/internal/anomaly"
)

// ErrInsufficientData is returned when a series is too short to hold out a horizon.
var ErrInsufficientData = errors.New("need at least two samples to forecast")

// ErrHorizonOutOfRange is returned for a horizon outside HorizonBounds.
var ErrHorizonOutOfRange = errors.New("forecast horizon out of range")

// StartLayout formats the instance start time.
const StartLayout = "2006-01-02 15:04:05"

// Config carries request and reporting constants.
type Config struct {
	MaxHorizon   int
	NumSamples   int
	RatePerKWh   float64
	CarbonPerKWh float64
}

// DefaultConfig mirrors the production endpoint settings.
func DefaultConfig() Config {
	return Config{MaxHorizon: 168, NumSamples: 50, RatePerKWh: 180, CarbonPerKWh: 0.424}
}

// Instance is one target series of a request.
type Instance struct {
	Start  string    `json:"start"`
	Target []float64 `json:"target"`
}

// Configuration controls sampling on the endpoint.
type Configuration struct {
	NumSamples  int      `json:"num_samples"`
	OutputTypes []string `json:"output_types"`
	Quantiles   []string `json:"quantiles"`
}

// Request is the JSON body sent to the endpoint.
type Request struct {
	Instances     []Instance    `json:"instances"`
	Configuration Configuration `json:"configuration"`
}

// Plan is a request together with the held-out tail used for evaluation.
type Plan struct {
	Request Request
	Input   anomaly.Series
	Holdout anomaly.Series
	Horizon int
}

// HorizonBounds returns the allowed horizon range for n usable samples.
func HorizonBounds(n, maxHorizon int) (int, int, error) {
	if maxHorizon <= 0 {
		maxHorizon = DefaultConfig().MaxHorizon
	}
	upper := n - 1
	if upper > maxHorizon {
		upper = maxHorizon
	}
	if upper < 1 {
		return 0, 0, ErrInsufficientData
	}
	return 1, upper, nil
}

// BuildRequest drops NaN targets, sorts by time and splits off the last
// horizon samples as the evaluation holdout.
func BuildRequest(series anomaly.Series, horizon int, cfg Config) (Plan, error) {
	clean := make(anomaly.Series, 0, len(series))
	for _, p := range series {
		if !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) {
			clean = append(clean, p)
		}
	}
	clean = anomaly.SortByTime(clean)

	lo, hi, err := HorizonBounds(len(clean), cfg.MaxHorizon)
	if err != nil {
		return Plan{}, err
	}
	if horizon < lo || horizon > hi {
		return Plan{}, fmt.Errorf("%w: %d outside [%d, %d]", ErrHorizonOutOfRange, horizon, lo, hi)
	}

	split := len(clean) - horizon
	input := clean[:split]
	numSamples := cfg.NumSamples
	if numSamples <= 0 {
		numSamples = DefaultConfig().NumSamples
	}

	return Plan{
		Request: Request{
			Instances: []Instance{{
				Start:  input[0].Time.Format(StartLayout),
				Target: input.Values(),
			}},
			Configuration: Configuration{
				NumSamples:  numSamples,
				OutputTypes: []string{"mean"},
				Quantiles:   []string{"0.1", "0.5", "0.9"},
			},
		},
		Input:   input,
		Holdout: clean[split:],
		Horizon: horizon,
	}, nil
}

// LastInput returns the final model input sample.
func (p Plan) LastInput() anomaly.Point {
	return p.Input[len(p.Input)-1]
}
