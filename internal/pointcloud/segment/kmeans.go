package segment

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudscan/internal/pointcloud"
)

// Constants for k-means configuration
const (
	// DefaultMaxIterations caps the assign/update passes of one run.
	DefaultMaxIterations = 50
	// DefaultRestarts is the number of independently seeded runs; the run
	// with the lowest inertia wins.
	DefaultRestarts = 10
	// DefaultSeed seeds the initialisation PRNG.
	DefaultSeed = 42
)

// KMeans implements Clusterer with Lloyd's algorithm over point positions.
type KMeans struct {
	// MaxIterations caps each run. Zero selects DefaultMaxIterations.
	MaxIterations int

	// Restarts is the number of runs. Zero selects DefaultRestarts.
	Restarts int

	// Seed is the base seed; run r draws from PCG(Seed, r).
	Seed uint64

	// Init picks starting centroids. Nil selects KMeansPlusPlus.
	Init Initializer

	// Workers bounds concurrent runs. Zero selects GOMAXPROCS.
	Workers int

	// Logs receives convergence warnings and per-run traces. Nil is silent.
	Logs *pointcloud.Logger
}

// DefaultKMeans returns a KMeans with production defaults.
func DefaultKMeans() *KMeans {
	return &KMeans{
		MaxIterations: DefaultMaxIterations,
		Restarts:      DefaultRestarts,
		Seed:          DefaultSeed,
		Init:          KMeansPlusPlus{},
	}
}

// Result is the outcome of the best k-means run.
type Result struct {
	Segments []Segment

	// Labels[i] is the segment label of point i.
	Labels []int

	// Inertia is the sum of squared distances from each point to its
	// segment centroid.
	Inertia float64

	// Iterations is the number of assignment passes of the winning run.
	Iterations int

	// Converged is false when the winning run stopped at MaxIterations.
	Converged bool

	// Restart is the index of the winning run.
	Restart int
}

// run is the outcome of a single Lloyd run.
type run struct {
	labels     []int
	inertia    float64
	iterations int
	converged  bool
}

func (km *KMeans) maxIterations() int {
	if km.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return km.MaxIterations
}

func (km *KMeans) restarts() int {
	if km.Restarts <= 0 {
		return DefaultRestarts
	}
	return km.Restarts
}

func (km *KMeans) initializer() Initializer {
	if km.Init == nil {
		return KMeansPlusPlus{}
	}
	return km.Init
}

func (km *KMeans) workers() int {
	if km.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return km.Workers
}

// Segment implements Clusterer.
func (km *KMeans) Segment(ctx context.Context, pc *pointcloud.PointCloud, k int) ([]Segment, error) {
	res, err := km.Fit(ctx, pc, k)
	if err != nil {
		return nil, err
	}
	return res.Segments, nil
}

// Fit clusters pc into exactly k segments. It fails with
// pointcloud.ErrInvalidArgument when k <= 0 or k exceeds the point count.
//
// Runs execute concurrently but the winner is chosen deterministically:
// lowest inertia, ties going to the lowest run index.
func (km *KMeans) Fit(ctx context.Context, pc *pointcloud.PointCloud, k int) (*Result, error) {
	if pc == nil {
		return nil, fmt.Errorf("%w: nil cloud", pointcloud.ErrInvalidArgument)
	}
	n := pc.Len()
	if k <= 0 || k > n {
		return nil, fmt.Errorf("%w: k=%d must be in [1, %d]", pointcloud.ErrInvalidArgument, k, n)
	}

	pts := pc.Vecs()
	maxIter := km.maxIterations()
	seeder := km.initializer()
	runs := make([]run, km.restarts())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(km.workers())
	for r := range runs {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(km.Seed, uint64(r)))
			seeds := seeder.Init(pts, k, rng)
			if len(seeds) != k {
				return fmt.Errorf("%w: initializer returned %d centroids, want %d",
					pointcloud.ErrInvalidArgument, len(seeds), k)
			}
			// lloyd moves centroids in place; the initializer may have
			// returned a view of pts, which every run shares.
			centroids := append([]r3.Vec(nil), seeds...)
			out, err := lloyd(gctx, pts, centroids, maxIter)
			if err != nil {
				return err
			}
			km.Logs.Tracef("kmeans run %d: iterations=%d converged=%t inertia=%.4f",
				r, out.iterations, out.converged, out.inertia)
			runs[r] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("kmeans: %w", err)
	}

	best := 0
	for r := 1; r < len(runs); r++ {
		if runs[r].inertia < runs[best].inertia {
			best = r
		}
	}
	win := runs[best]

	members := make([][]int, k)
	for i, l := range win.labels {
		members[l] = append(members[l], i)
	}
	segs := make([]Segment, k)
	for c := range segs {
		segs[c] = newSegment(pc, c, members[c])
	}

	if !win.converged {
		km.Logs.Opsf("kmeans: k=%d did not converge within %d iterations", k, maxIter)
	}
	km.Logs.Diagf("kmeans: %d points into %d segments (run %d, %d iterations, inertia %.4f)",
		n, k, best, win.iterations, win.inertia)

	return &Result{
		Segments:   segs,
		Labels:     win.labels,
		Inertia:    win.inertia,
		Iterations: win.iterations,
		Converged:  win.converged,
		Restart:    best,
	}, nil
}

// lloyd refines centroids in place until no point changes segment or
// maxIter assignment passes have run. A centroid with no members keeps its
// previous position.
func lloyd(ctx context.Context, pts, centroids []r3.Vec, maxIter int) (run, error) {
	k := len(centroids)
	labels := make([]int, len(pts))
	for i := range labels {
		labels[i] = -1
	}
	sums := make([]r3.Vec, k)
	counts := make([]int, k)

	out := run{labels: labels}
	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return run{}, err
		}
		out.iterations = iter

		changed := 0
		for i, p := range pts {
			if c := nearest(p, centroids); c != labels[i] {
				labels[i] = c
				changed++
			}
		}
		if changed == 0 {
			out.converged = true
			break
		}

		for c := range sums {
			sums[c] = r3.Vec{}
			counts[c] = 0
		}
		for i, p := range pts {
			l := labels[i]
			sums[l] = r3.Add(sums[l], p)
			counts[l]++
		}
		for c := range centroids {
			if counts[c] > 0 {
				centroids[c] = r3.Scale(1/float64(counts[c]), sums[c])
			}
		}
	}

	for i, p := range pts {
		out.inertia += r3.Norm2(r3.Sub(p, centroids[labels[i]]))
	}
	return out, nil
}

// nearest returns the index of the centroid closest to p by squared
// Euclidean distance. Ties go to the lowest index.
func nearest(p r3.Vec, centroids []r3.Vec) int {
	best := 0
	bestD := math.Inf(1)
	for c, q := range centroids {
		if d := r3.Norm2(r3.Sub(p, q)); d < bestD {
			best = c
			bestD = d
		}
	}
	return best
}

// Verify at compile time that *KMeans implements Clusterer and Fitter.
var (
	_ Clusterer = (*KMeans)(nil)
	_ Fitter    = (*KMeans)(nil)
)
