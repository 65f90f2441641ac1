package pointcloud

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Bounds is the axis-aligned box around a point set. Center is the
// arithmetic mean of the points, not the midpoint of the box.
type Bounds struct {
	Min    [3]float64 `json:"min"`
	Max    [3]float64 `json:"max"`
	Center [3]float64 `json:"center"`
}

// Extent returns Max[i]-Min[i].
func (b Bounds) Extent(i int) float64 {
	return b.Max[i] - b.Min[i]
}

// Volume is the product of the three extents. It is zero whenever the
// points are flat along any axis.
func (b Bounds) Volume() float64 {
	return b.Extent(0) * b.Extent(1) * b.Extent(2)
}

// ComputeBounds returns the component-wise min, max and mean of points.
func ComputeBounds(points []Point) (Bounds, error) {
	if len(points) == 0 {
		return Bounds{}, ErrEmptyInput
	}

	var b Bounds
	col := make([]float64, len(points))
	for axis := 0; axis < 3; axis++ {
		for i, p := range points {
			col[i] = p.Axis(axis)
		}
		b.Min[axis] = floats.Min(col)
		b.Max[axis] = floats.Max(col)
		b.Center[axis] = stat.Mean(col, nil)
	}
	return b, nil
}
