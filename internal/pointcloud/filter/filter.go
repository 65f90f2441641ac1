// Package filter derives point-cloud subsets from spatial predicates.
//
// Filters never modify their input: retained points and colours are copied
// into a new cloud in their original order.
package filter

import (
	"fmt"
	"math"

	"github.com/banshee-data/cloudscan/internal/pointcloud"
)

// Filter produces a new cloud holding the subset of points that satisfy a
// predicate.
type Filter interface {
	Filter(pc *pointcloud.PointCloud) (*pointcloud.PointCloud, error)
}

// ZRange keeps points whose z lies within an optional closed interval.
// A nil bound is open on that side; with both nil the filter is the identity.
type ZRange struct {
	// Min is the lower bound on z (inclusive). Points below it are
	// discarded as ground or sub-floor returns.
	Min *float64

	// Max is the upper bound on z (inclusive). Points above it are
	// discarded as overhead structure.
	Max *float64
}

// Stats counts how points were classified by one Filter call.
type Stats struct {
	Processed int
	Kept      int
	BelowMin  int
	AboveMax  int
}

// Ratio returns Kept/Processed as a percentage, 0 when nothing was processed.
func (s Stats) Ratio() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Kept) / float64(s.Processed) * 100
}

// NewZRange returns a ZRange with the given optional bounds.
func NewZRange(lo, hi *float64) ZRange {
	return ZRange{Min: lo, Max: hi}
}

// Between returns a ZRange closed on both sides.
func Between(lo, hi float64) ZRange {
	return ZRange{Min: &lo, Max: &hi}
}

// Validate rejects NaN bounds and inverted intervals.
func (f ZRange) Validate() error {
	if f.Min != nil && math.IsNaN(*f.Min) {
		return fmt.Errorf("%w: z_min is NaN", pointcloud.ErrInvalidArgument)
	}
	if f.Max != nil && math.IsNaN(*f.Max) {
		return fmt.Errorf("%w: z_max is NaN", pointcloud.ErrInvalidArgument)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("%w: z_min %v is above z_max %v", pointcloud.ErrInvalidArgument, *f.Min, *f.Max)
	}
	return nil
}

// Keep reports whether z passes the range test.
func (f ZRange) Keep(z float64) bool {
	if f.Min != nil && z < *f.Min {
		return false
	}
	if f.Max != nil && z > *f.Max {
		return false
	}
	return true
}

// String renders the interval, e.g. "[-2, 5]" or "(-inf, 5]".
func (f ZRange) String() string {
	lo, hi := "(-inf", "+inf)"
	if f.Min != nil {
		lo = fmt.Sprintf("[%g", *f.Min)
	}
	if f.Max != nil {
		hi = fmt.Sprintf("%g]", *f.Max)
	}
	return lo + ", " + hi
}

// Filter implements Filter.
func (f ZRange) Filter(pc *pointcloud.PointCloud) (*pointcloud.PointCloud, error) {
	out, _, err := f.FilterWithStats(pc)
	return out, err
}

// FilterWithStats filters pc and reports how many points fell on each side
// of the range. An empty result is a valid cloud; metrics on it fail later
// with pointcloud.ErrEmptyInput.
func (f ZRange) FilterWithStats(pc *pointcloud.PointCloud) (*pointcloud.PointCloud, Stats, error) {
	if pc == nil {
		return nil, Stats{}, fmt.Errorf("%w: nil cloud", pointcloud.ErrInvalidArgument)
	}
	if err := f.Validate(); err != nil {
		return nil, Stats{}, err
	}

	n := pc.Len()
	stats := Stats{Processed: n}
	keep := make([]int, 0, n)
	for i := 0; i < n; i++ {
		z := pc.Point(i).Z
		switch {
		case f.Min != nil && z < *f.Min:
			stats.BelowMin++
		case f.Max != nil && z > *f.Max:
			stats.AboveMax++
		default:
			keep = append(keep, i)
		}
	}
	stats.Kept = len(keep)

	return pc.Subset(keep), stats, nil
}

var _ Filter = ZRange{}
