package segment

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// Initializer chooses the k starting centroids for one k-means run.
// Implementations must draw randomness only from rng so runs are
// reproducible from the seed. The returned slice may alias pts; KMeans
// copies it before refining.
type Initializer interface {
	Init(pts []r3.Vec, k int, rng *rand.Rand) []r3.Vec
}

// InitializerFunc adapts a function to the Initializer interface.
type InitializerFunc func(pts []r3.Vec, k int, rng *rand.Rand) []r3.Vec

// Init calls f.
func (f InitializerFunc) Init(pts []r3.Vec, k int, rng *rand.Rand) []r3.Vec {
	return f(pts, k, rng)
}

// KMeansPlusPlus seeds with k-means++: the first centroid is a uniform
// random point, each further centroid is drawn with probability
// proportional to its squared distance from the nearest chosen centroid.
type KMeansPlusPlus struct{}

// Init implements Initializer.
func (KMeansPlusPlus) Init(pts []r3.Vec, k int, rng *rand.Rand) []r3.Vec {
	centroids := make([]r3.Vec, 0, k)
	first := pts[rng.IntN(len(pts))]
	centroids = append(centroids, first)

	d2 := make([]float64, len(pts))
	for i, p := range pts {
		d2[i] = r3.Norm2(r3.Sub(p, first))
	}

	for len(centroids) < k {
		idx := weightedIndex(d2, rng)
		c := pts[idx]
		centroids = append(centroids, c)
		for i, p := range pts {
			if d := r3.Norm2(r3.Sub(p, c)); d < d2[i] {
				d2[i] = d
			}
		}
	}
	return centroids
}

// weightedIndex draws an index with probability proportional to w. When
// every weight is zero (all points already coincide with a centroid) it
// falls back to a uniform draw.
func weightedIndex(w []float64, rng *rand.Rand) int {
	total := floats.Sum(w)
	if total <= 0 {
		return rng.IntN(len(w))
	}
	target := rng.Float64() * total
	var acc float64
	last := 0
	for i, v := range w {
		if v <= 0 {
			continue
		}
		acc += v
		last = i
		if acc > target {
			return i
		}
	}
	return last
}

// RandomPoints seeds with k distinct points chosen uniformly at random
// (Forgy initialisation).
type RandomPoints struct{}

// Init implements Initializer.
func (RandomPoints) Init(pts []r3.Vec, k int, rng *rand.Rand) []r3.Vec {
	perm := rng.Perm(len(pts))
	centroids := make([]r3.Vec, k)
	for i := range centroids {
		centroids[i] = pts[perm[i]]
	}
	return centroids
}

// FirstPoints seeds with the first k points. It uses no randomness and is
// mainly useful in tests.
type FirstPoints struct{}

// Init implements Initializer.
func (FirstPoints) Init(pts []r3.Vec, k int, _ *rand.Rand) []r3.Vec {
	centroids := make([]r3.Vec, k)
	copy(centroids, pts[:k])
	return centroids
}
