package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wattlens/wattlens/internal/anomaly"
)

var (
	// ErrHorizonMismatch is returned when the response length differs from the horizon.
	ErrHorizonMismatch = errors.New("prediction count does not match horizon")
	// ErrIncompleteJoin is returned when predictions do not line up with the holdout.
	ErrIncompleteJoin = errors.New("predictions and actuals do not align on timestamp")
)

// Prediction is one forecast step with derived cost and emission figures.
type Prediction struct {
	Time   time.Time `json:"time"`
	Value  float64   `json:"value"`
	Bill   float64   `json:"bill"`
	Carbon float64   `json:"carbon"`
}

// Predictions stamps response values hourly after lastInput.
func Predictions(resp Response, lastInput time.Time, horizon int, cfg Config) ([]Prediction, error) {
	if len(resp.Values) != horizon {
		return nil, fmt.Errorf("%w: got %d values for horizon %d", ErrHorizonMismatch, len(resp.Values), horizon)
	}
	out := make([]Prediction, horizon)
	for i, v := range resp.Values {
		out[i] = Prediction{
			Time:   lastInput.Add(time.Duration(i+1) * time.Hour),
			Value:  v,
			Bill:   v * cfg.RatePerKWh,
			Carbon: v * cfg.CarbonPerKWh,
		}
	}
	return out, nil
}

// Pair is one matched actual/predicted step.
type Pair struct {
	Time      time.Time `json:"time"`
	Actual    float64   `json:"actual"`
	Predicted float64   `json:"predicted"`
}

// Evaluation summarises forecast accuracy over the holdout.
type Evaluation struct {
	MAE      float64 `json:"mae"`
	GaugeMax float64 `json:"gauge_max"`
	Matched  int     `json:"matched"`
	Pairs    []Pair  `json:"pairs"`
}

// Evaluate inner-joins actual and predicted on timestamp. Every prediction
// must find its actual, otherwise ErrIncompleteJoin is returned alongside the
// partial match count.
func Evaluate(actual anomaly.Series, predicted []Prediction) (Evaluation, error) {
	byTime := make(map[int64]float64, len(actual))
	for _, p := range actual {
		byTime[p.Time.UnixNano()] = p.Value
	}

	eval := Evaluation{Pairs: make([]Pair, 0, len(predicted))}
	for _, pred := range predicted {
		v, ok := byTime[pred.Time.UnixNano()]
		if !ok {
			continue
		}
		eval.Pairs = append(eval.Pairs, Pair{Time: pred.Time, Actual: v, Predicted: pred.Value})
	}
	eval.Matched = len(eval.Pairs)
	if eval.Matched == 0 || eval.Matched != len(predicted) {
		return eval, fmt.Errorf("%w: matched %d of %d", ErrIncompleteJoin, eval.Matched, len(predicted))
	}

	var absErr, actualSum float64
	for _, pair := range eval.Pairs {
		absErr += math.Abs(pair.Actual - pair.Predicted)
		actualSum += pair.Actual
	}
	n := float64(eval.Matched)
	eval.MAE = absErr / n
	eval.GaugeMax = math.Max(2*eval.MAE, 0.5*actualSum/n)
	if eval.GaugeMax == 0 {
		eval.GaugeMax = 1
	}
	return eval, nil
}
