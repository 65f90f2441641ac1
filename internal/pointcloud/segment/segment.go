// Package segment partitions a point cloud into labelled regions.
//
// Responsibilities: k-means clustering over point positions (colours are
// ignored), per-segment centroid and bounds, and partition checks.
// Key types: Segment, KMeans, Result.
//
// Every point of the input is assigned to exactly one Segment. Segments
// with no members are legal and are reported with a NaN centroid and nil
// bounds instead of failing.
package segment

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/banshee-data/cloudscan/internal/pointcloud"
)

// ErrInvalidPartition reports segments that do not partition a cloud.
var ErrInvalidPartition = errors.New("segments do not partition the cloud")

// Clusterer abstracts the segmentation algorithm so the pipeline can take
// any strategy that honours the partition contract.
type Clusterer interface {
	// Segment returns exactly k segments covering every index of pc.
	Segment(ctx context.Context, pc *pointcloud.PointCloud, k int) ([]Segment, error)
}

// Fitter is implemented by clusterers that expose convergence details.
type Fitter interface {
	Fit(ctx context.Context, pc *pointcloud.PointCloud, k int) (*Result, error)
}

// Segment is one labelled cluster.
type Segment struct {
	Label   int
	NPoints int

	// Centroid is the mean of the member points; every component is NaN
	// when the segment is empty.
	Centroid pointcloud.Point

	// Bounds covers the member points; nil when the segment is empty.
	Bounds *pointcloud.Bounds

	// Members holds the indices of the member points in the input cloud.
	Members *roaring.Bitmap
}

// Empty reports whether the segment has no members.
func (s Segment) Empty() bool {
	return s.NPoints == 0
}

// MemberBounds returns the segment bounds, or pointcloud.ErrEmptyInput when
// the segment has no members.
func (s Segment) MemberBounds() (pointcloud.Bounds, error) {
	if s.Bounds == nil {
		return pointcloud.Bounds{}, fmt.Errorf("segment %d: %w", s.Label, pointcloud.ErrEmptyInput)
	}
	return *s.Bounds, nil
}

// Indices returns the member indices in ascending order.
func (s Segment) Indices() []int {
	if s.Members == nil {
		return nil
	}
	out := make([]int, 0, s.Members.GetCardinality())
	it := s.Members.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// Summary is the serialisable view of a Segment. Center and Bounds are null
// for an empty segment.
type Summary struct {
	Label   int                `json:"label"`
	NPoints int                `json:"n_points"`
	Center  *[3]float64        `json:"center"`
	Bounds  *pointcloud.Bounds `json:"bounds"`
}

// Summary returns the serialisable view of s.
func (s Segment) Summary() Summary {
	sum := Summary{Label: s.Label, NPoints: s.NPoints}
	if !s.Empty() {
		c := s.Centroid.Array()
		b := *s.Bounds
		sum.Center = &c
		sum.Bounds = &b
	}
	return sum
}

// newSegment builds the segment for label from the member indices of pc.
func newSegment(pc *pointcloud.PointCloud, label int, members []int) Segment {
	s := Segment{
		Label:    label,
		NPoints:  len(members),
		Centroid: pointcloud.Point{X: math.NaN(), Y: math.NaN(), Z: math.NaN()},
		Members:  roaring.New(),
	}
	for _, i := range members {
		s.Members.Add(uint32(i))
	}
	if len(members) == 0 {
		return s
	}

	b, err := pc.Subset(members).Bounds()
	if err != nil {
		// Unreachable: members is non-empty.
		return s
	}
	s.Centroid = pointcloud.Point{X: b.Center[0], Y: b.Center[1], Z: b.Center[2]}
	s.Bounds = &b
	return s
}

// CheckPartition verifies that segs cover the indices [0, n) exactly once
// and that every NPoints matches its member set.
func CheckPartition(segs []Segment, n int) error {
	union := roaring.New()
	total := 0
	for _, s := range segs {
		if s.Members == nil {
			return fmt.Errorf("%w: segment %d has no member set", ErrInvalidPartition, s.Label)
		}
		if card := s.Members.GetCardinality(); card != uint64(s.NPoints) {
			return fmt.Errorf("%w: segment %d reports %d points but holds %d",
				ErrInvalidPartition, s.Label, s.NPoints, card)
		}
		if union.Intersects(s.Members) {
			return fmt.Errorf("%w: segment %d overlaps an earlier segment", ErrInvalidPartition, s.Label)
		}
		union.Or(s.Members)
		total += s.NPoints
	}
	if total != n || union.GetCardinality() != uint64(n) {
		return fmt.Errorf("%w: segments hold %d points, cloud has %d", ErrInvalidPartition, total, n)
	}
	if n > 0 && union.Maximum() != uint32(n-1) {
		return fmt.Errorf("%w: index %d is out of range", ErrInvalidPartition, union.Maximum())
	}
	return nil
}
