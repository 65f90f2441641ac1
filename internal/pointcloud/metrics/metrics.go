// Package metrics computes descriptive spatial statistics for a point cloud.
//
// Every value is recomputed on each call; nothing is cached between clouds.
package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/cloudscan/internal/pointcloud"
)

// DefaultDistanceSampleSize caps the prefix used for AvgPointDistance.
const DefaultDistanceSampleSize = 1000

// Metrics is a snapshot of a cloud's descriptive statistics.
//
// Values are reported at full float64 precision. Earlier reports rounded
// density and avg_point_distance to 4 decimal places and volume to 2, so
// comparisons against those need a tolerance.
type Metrics struct {
	NPoints int `json:"n_points"`

	// Density is NPoints/Volume, or exactly 0 when Volume is 0 or the cloud
	// has at most one point.
	Density float64 `json:"density"`
	Volume  float64 `json:"volume"`

	// Center and Std are per-axis population statistics (divide by N).
	Center [3]float64 `json:"center"`
	Std    [3]float64 `json:"std"`

	// AvgPointDistance is the mean distance between index-adjacent points in
	// a bounded prefix of the cloud. It is not a nearest-neighbour spacing
	// and says nothing about local density.
	AvgPointDistance float64 `json:"avg_point_distance"`

	Bounds pointcloud.Bounds `json:"bounds"`
}

// Options tunes Compute.
type Options struct {
	// DistanceSampleSize is the prefix length used for AvgPointDistance.
	// Zero or negative selects DefaultDistanceSampleSize.
	DistanceSampleSize int

	// Logs receives per-call trace lines. Nil is silent.
	Logs *pointcloud.Logger
}

func (o Options) sampleSize() int {
	if o.DistanceSampleSize <= 0 {
		return DefaultDistanceSampleSize
	}
	return o.DistanceSampleSize
}

// Compute returns the metrics of pc using default options.
func Compute(pc *pointcloud.PointCloud) (Metrics, error) {
	return ComputeWithOptions(pc, Options{})
}

// ComputeWithOptions returns the metrics of pc. It fails with
// pointcloud.ErrEmptyInput when pc has no points.
func ComputeWithOptions(pc *pointcloud.PointCloud, opts Options) (Metrics, error) {
	n := pc.Len()
	if n == 0 {
		return Metrics{}, fmt.Errorf("compute metrics: %w", pointcloud.ErrEmptyInput)
	}

	bounds, err := pc.Bounds()
	if err != nil {
		return Metrics{}, fmt.Errorf("compute metrics: %w", err)
	}

	m := Metrics{
		NPoints: n,
		Volume:  bounds.Volume(),
		Bounds:  bounds,
	}
	m.Density = density(n, m.Volume)

	for axis := 0; axis < 3; axis++ {
		m.Center[axis], m.Std[axis] = stat.PopMeanStdDev(pc.Axis(axis), nil)
	}

	m.AvgPointDistance = avgAdjacentDistance(pc, opts.sampleSize())

	opts.Logs.Tracef("metrics: n=%d volume=%.4f density=%.4f avg_dist=%.4f",
		n, m.Volume, m.Density, m.AvgPointDistance)
	return m, nil
}

func density(n int, volume float64) float64 {
	if n <= 1 || volume <= 0 {
		return 0
	}
	return float64(n) / volume
}

// avgAdjacentDistance averages |p[i+1]-p[i]| over the first sampleSize
// points. It returns 0 when the sample holds fewer than two points.
func avgAdjacentDistance(pc *pointcloud.PointCloud, sampleSize int) float64 {
	sample := pc.Len()
	if sample > sampleSize {
		sample = sampleSize
	}
	if sample <= 1 {
		return 0
	}

	var sum float64
	prev := pc.Point(0).Vec()
	for i := 1; i < sample; i++ {
		cur := pc.Point(i).Vec()
		sum += r3.Norm(r3.Sub(cur, prev))
		prev = cur
	}
	return sum / float64(sample-1)
}
