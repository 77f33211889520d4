package nn

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TruncatedNormal returns an r×c matrix of N(0, stddev) draws. Samples
// further than two standard deviations from zero are redrawn.
func TruncatedNormal(r, c int, stddev float64, src rand.Source) *mat.Dense {
	dist := distuv.Normal{Mu: 0, Sigma: stddev, Src: src}
	data := make([]float64, r*c)
	for i := range data {
		v := dist.Rand()
		for math.Abs(v) > 2*stddev {
			v = dist.Rand()
		}
		data[i] = v
	}
	return mat.NewDense(r, c, data)
}

// Constant returns an r×c matrix filled with v.
func Constant(r, c int, v float64) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = v
	}
	return mat.NewDense(r, c, data)
}

// DropoutMask draws an inverted-dropout mask: each entry is 1/(1-rate)
// with probability 1-rate and 0 otherwise.
func DropoutMask(r, c int, rate float64, src rand.Source) *mat.Dense {
	keep := 1 - rate
	dist := distuv.Bernoulli{P: keep, Src: src}
	data := make([]float64, r*c)
	for i := range data {
		data[i] = dist.Rand() / keep
	}
	return mat.NewDense(r, c, data)
}
