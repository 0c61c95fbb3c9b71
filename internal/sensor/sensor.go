// Package sensor acquires one field reading per advisory run.
package sensor

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/kjstillabower/field-advisory/internal/models"
)

// Source yields the current field reading.
type Source interface {
	Read(ctx context.Context) (models.SensorSnapshot, error)
}

// Simulated returns plausible random readings for running without hardware.
// Temperature and wind have 1 decimal; humidity and soil moisture are whole percentages.
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

func (s *Simulated) Read(ctx context.Context) (models.SensorSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.SensorSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SensorSnapshot{
		TemperatureC:    roundTo(s.uniform(24, 36), 1),
		HumidityPct:     roundTo(s.uniform(45, 95), 0),
		SoilMoisturePct: roundTo(s.uniform(20, 90), 0),
		WindSpeedMS:     roundTo(s.uniform(0.5, 18), 1),
	}, nil
}

func (s *Simulated) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
