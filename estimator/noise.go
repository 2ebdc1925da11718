package estimator

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// NoiseSource adds measurement noise to the true terminal voltage.
type NoiseSource interface {
	Sample() float64
}

// NoNoise is a source that always returns 0.
type NoNoise struct{}

func (NoNoise) Sample() float64 { return 0 }

// GaussianNoise is zero mean normal noise from a seeded generator, so runs
// with the same seed see the same measurements.
type GaussianNoise struct {
	dist distuv.Normal
}

func NewGaussianNoise(stdDev float64, seed uint64) *GaussianNoise {
	return &GaussianNoise{
		dist: distuv.Normal{
			Mu:    0,
			Sigma: stdDev,
			Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		},
	}
}

func (g *GaussianNoise) Sample() float64 {
	return g.dist.Rand()
}

func (g *GaussianNoise) StdDev() float64 {
	return g.dist.Sigma
}
