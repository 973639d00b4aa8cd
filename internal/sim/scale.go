// Package sim models a food scale: the weight drops as food is eaten and is
// occasionally refilled. It stands in for real hardware in development.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	maxBite    = 15.0
	refillProb = 0.05
	minWeight  = 20.0
)

type Scale struct {
	mu       sync.Mutex
	rng      *rand.Rand
	full     float64
	weight   float64
	maxDelay time.Duration
}

// NewScale returns a scale starting full at startWeight. The same seed gives
// the same sequence of readings and delays.
func NewScale(seed int64, startWeight float64, maxDelay time.Duration) *Scale {
	if maxDelay < 0 {
		maxDelay = 0
	}
	return &Scale{
		rng:      rand.New(rand.NewSource(seed)),
		full:     startWeight,
		weight:   startWeight,
		maxDelay: maxDelay,
	}
}

// Next advances the model by one step and returns the new weight, rounded to
// a tenth of a gram.
func (s *Scale) Next() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next()
}

func (s *Scale) next() float64 {
	if s.weight < minWeight || s.rng.Float64() < refillProb {
		s.weight = s.full
	} else {
		s.weight = math.Max(0, s.weight-s.rng.Float64()*maxBite)
	}
	return math.Round(s.weight*10) / 10
}

// Read waits a random delay up to the configured maximum, like a device doing
// a measurement, then returns Next. It gives up when ctx ends.
func (s *Scale) Read(ctx context.Context) (float64, error) {
	s.mu.Lock()
	var delay time.Duration
	if s.maxDelay > 0 {
		delay = time.Duration(s.rng.Int63n(int64(s.maxDelay) + 1))
	}
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Next(), nil
}
