package sensor

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Simulated produces a bounded random walk for bench rigs without hardware.
type Simulated struct {
	mu   sync.Mutex
	rng  *rand.Rand
	temp float64
	hum  float64
}

// NewSimulated returns a simulated source. A zero seed seeds from the clock.
func NewSimulated(seed int64) *Simulated {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		rng:  rand.New(rand.NewSource(seed)),
		temp: 5.0,
		hum:  12.0,
	}
}

func (s *Simulated) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.temp = clamp(s.temp+(s.rng.Float64()-0.5), -12.8, 12.7)
	s.hum = clamp(s.hum+(s.rng.Float64()-0.5)*2, 0, 25.5)
	return Reading{TemperatureC: s.temp, HumidityPct: s.hum}, nil
}

func (s *Simulated) Close() error { return nil }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
