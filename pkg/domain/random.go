package domain

import "math/rand"

// RandomSource yields uniform floats in [0, 1).
type RandomSource interface {
	Float64() float64
}

// DefaultRandom draws from the process-wide math/rand generator.
type DefaultRandom struct{}

func (DefaultRandom) Float64() float64 { return rand.Float64() }

// Uniform draws one value in [lo, hi) from src.
func Uniform(src RandomSource, lo, hi float64) float64 {
	return src.Float64()*(hi-lo) + lo
}
