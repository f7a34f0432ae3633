package anomaly

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// ErrorSource produces the reconstruction-error series for a module.
type ErrorSource interface {
	Errors(ctx context.Context, module int) (Series, error)
}

// SyntheticFeatures are the candidate dominant features of generated samples.
var SyntheticFeatures = []string{"current_S", "activePower", "powerfactor_R"}

// Synthetic stands in for a trained detector: it emits uniformly distributed
// error values labelled with a random dominant feature. Output is
// deterministic for a given seed and module.
type Synthetic struct {
	Seed    int64
	Start   time.Time
	Samples int
	Step    time.Duration
	Min     float64
	Max     float64
}

// NewSynthetic returns a generator emitting 50 samples every ten minutes from
// 2025-05-01 with errors in [0.1, 1.5].
func NewSynthetic(seed int64, loc *time.Location) *Synthetic {
	if loc == nil {
		loc = time.UTC
	}
	return &Synthetic{
		Seed:    seed,
		Start:   time.Date(2025, 5, 1, 0, 0, 0, 0, loc),
		Samples: 50,
		Step:    10 * time.Minute,
		Min:     0.1,
		Max:     1.5,
	}
}

func (s *Synthetic) Errors(ctx context.Context, module int) (Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(uint64(s.Seed), uint64(module)))
	series := make(Series, s.Samples)
	for i := range series {
		value := s.Min + rng.Float64()*(s.Max-s.Min)
		series[i] = Point{
			Time:  s.Start.Add(time.Duration(i) * s.Step),
			Value: math.Round(value*1000) / 1000,
			Label: SyntheticFeatures[rng.IntN(len(SyntheticFeatures))],
		}
	}
	return series, nil
}
