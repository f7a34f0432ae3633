package anomaly

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/wattlens/wattlens/internal/models"
	"github.com/wattlens/wattlens/internal/utils"
)

// Point is a single sample of a time-indexed series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
	// Label carries the dominant feature for detector output.
	Label string `json:"label,omitempty"`
}

// MarshalJSON encodes NaN values as null.
func (p Point) MarshalJSON() ([]byte, error) {
	type point struct {
		Time  time.Time     `json:"time"`
		Value models.Number `json:"value"`
		Label string        `json:"label,omitempty"`
	}
	return json.Marshal(point{Time: p.Time, Value: models.Number(p.Value), Label: p.Label})
}

// Series is an ordered sequence of samples.
type Series []Point

// Values returns the sample values in order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// Mask is the per-sample anomaly classification of a series.
type Mask struct {
	Flags []bool `json:"flags"`
	Count int    `json:"count"`
	Total int    `json:"total"`
}

// Flag marks every sample strictly above threshold. NaN samples are never
// flagged and the input is left untouched.
func Flag(series Series, threshold float64) Mask {
	mask := Mask{Flags: make([]bool, len(series)), Total: len(series)}
	for i, p := range series {
		if !math.IsNaN(p.Value) && p.Value > threshold {
			mask.Flags[i] = true
			mask.Count++
		}
	}
	return mask
}

// WindowedView returns the samples with start <= time <= end. An inverted
// window yields an empty series.
func WindowedView(series Series, start, end time.Time) Series {
	out := make(Series, 0)
	if start.After(end) {
		return out
	}
	for _, p := range series {
		if p.Time.Before(start) || p.Time.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// DayWindow returns the inclusive bounds covering startDay through endDay.
func DayWindow(startDay, endDay time.Time) (time.Time, time.Time) {
	return utils.DayBounds(startDay, endDay)
}

// SortByTime returns a chronologically ordered copy, keeping file order for
// equal timestamps.
func SortByTime(series Series) Series {
	out := make(Series, len(series))
	copy(out, series)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Annotated pairs a series with its mask.
type Annotated struct {
	Series    Series  `json:"series"`
	Mask      Mask    `json:"mask"`
	Threshold float64 `json:"threshold"`
}

// Annotate flags series against threshold.
func Annotate(series Series, threshold float64) Annotated {
	return Annotated{Series: series, Mask: Flag(series, threshold), Threshold: threshold}
}

// Anomalies returns only the flagged samples.
func (a Annotated) Anomalies() Series {
	out := make(Series, 0, a.Mask.Count)
	for i, flagged := range a.Mask.Flags {
		if flagged {
			out = append(out, a.Series[i])
		}
	}
	return out
}

// LabelCounts tallies the labels of flagged samples.
func (a Annotated) LabelCounts() map[string]int {
	counts := make(map[string]int)
	for _, p := range a.Anomalies() {
		if p.Label != "" {
			counts[p.Label]++
		}
	}
	return counts
}
