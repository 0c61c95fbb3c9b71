package weather

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/kjstillabower/field-advisory/internal/models"
)

// SourceSimulated tags summaries generated without a provider.
const SourceSimulated = "simulated"

// Simulated ranges. Values are uniform and rounded to 1 decimal.
const (
	simRain12hMax = 50.0
	simRainDayMax = 80.0
	simWindMin    = 1.0
	simWindMax    = 20.0
)

var simConditions = []models.Condition{
	models.ConditionClear,
	models.ConditionClouds,
	models.ConditionRain,
	models.ConditionThunderstorm,
}

// Simulated produces random summaries so the pipeline runs without a
// forecast key. It carries no accuracy contract beyond the ranges above.
type Simulated struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated creates a Simulated source. A nil rng uses a randomly seeded one.
func NewSimulated(rng *rand.Rand) *Simulated {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Simulated{rng: rng}
}

func (s *Simulated) Name() string { return SourceSimulated }

func (s *Simulated) Summary(ctx context.Context, _ models.Location) (models.ForecastSummary, error) {
	if err := ctx.Err(); err != nil {
		return models.ForecastSummary{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := models.ForecastSummary{
		Source: SourceSimulated,
		Next12h: models.Next12h{
			RainMM:    s.uniform(0, simRain12hMax),
			WindMS:    s.uniform(simWindMin, simWindMax),
			Condition: simConditions[s.rng.IntN(len(simConditions))],
		},
		Next3Days: make([]models.DaySummary, 0, Days),
	}
	for d := 1; d <= Days; d++ {
		out.Next3Days = append(out.Next3Days, models.DaySummary{
			Day:    d,
			RainMM: s.uniform(0, simRainDayMax),
			WindMS: s.uniform(simWindMin, simWindMax),
		})
	}
	return out, nil
}

func (s *Simulated) uniform(lo, hi float64) float64 {
	return round1(lo + s.rng.Float64()*(hi-lo))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
