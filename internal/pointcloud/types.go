package pointcloud

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point is a position in the cloud frame (metres). Points carry no identity
// beyond their index within a PointCloud.
type Point struct {
	X, Y, Z float64
}

// Vec returns p as a gonum r3 vector.
func (p Point) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// Axis returns the coordinate on axis 0 (x), 1 (y) or 2 (z).
func (p Point) Axis(i int) float64 {
	switch i {
	case 0:
		return p.X
	case 1:
		return p.Y
	case 2:
		return p.Z
	}
	panic(fmt.Sprintf("pointcloud: axis %d out of range", i))
}

// Array returns the coordinates as [x, y, z].
func (p Point) Array() [3]float64 {
	return [3]float64{p.X, p.Y, p.Z}
}

func (p Point) isFinite() bool {
	for _, v := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Color is an 8-bit RGB triple paired by index with a Point.
type Color struct {
	R, G, B uint8
}

// Packed returns the colour as 0x00RRGGBB, the layout PCD files use for
// their rgb field.
func (c Color) Packed() uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

// ColorFromPacked is the inverse of Color.Packed.
func ColorFromPacked(v uint32) Color {
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// PointCloud is an ordered set of points with parallel colours.
//
// A PointCloud is treated as a value: constructors copy their inputs and
// accessors hand out copies, so a cloud derived by filtering or subsetting
// never shares backing storage with its source.
type PointCloud struct {
	points []Point
	colors []Color
}

// New builds a cloud from pre-existing samples, for example positions
// delivered by an upstream sensor pipeline. Both slices are copied.
// Empty input yields a valid zero-point cloud.
func New(points []Point, colors []Color) (*PointCloud, error) {
	if len(points) != len(colors) {
		return nil, fmt.Errorf("%w: %d points but %d colors", ErrInvalidArgument, len(points), len(colors))
	}
	for i, p := range points {
		if !p.isFinite() {
			return nil, fmt.Errorf("%w: point %d has non-finite coordinates", ErrInvalidArgument, i)
		}
	}
	pc := &PointCloud{
		points: make([]Point, len(points)),
		colors: make([]Color, len(colors)),
	}
	copy(pc.points, points)
	copy(pc.colors, colors)
	return pc, nil
}

// Len returns the number of points in the cloud. A nil cloud has length 0.
func (pc *PointCloud) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.points)
}

// Point returns the point at index i.
func (pc *PointCloud) Point(i int) Point {
	return pc.points[i]
}

// Color returns the colour at index i.
func (pc *PointCloud) Color(i int) Color {
	return pc.colors[i]
}

// Points returns a copy of the cloud's points.
func (pc *PointCloud) Points() []Point {
	out := make([]Point, len(pc.points))
	copy(out, pc.points)
	return out
}

// Colors returns a copy of the cloud's colours.
func (pc *PointCloud) Colors() []Color {
	out := make([]Color, len(pc.colors))
	copy(out, pc.colors)
	return out
}

// Vecs returns the points as r3 vectors for numeric stages.
func (pc *PointCloud) Vecs() []r3.Vec {
	out := make([]r3.Vec, len(pc.points))
	for i, p := range pc.points {
		out[i] = p.Vec()
	}
	return out
}

// Axis returns a fresh slice holding every point's coordinate on axis i.
func (pc *PointCloud) Axis(i int) []float64 {
	out := make([]float64, len(pc.points))
	for j, p := range pc.points {
		out[j] = p.Axis(i)
	}
	return out
}

// Bounds computes the axis-aligned bounds of the cloud. It is recomputed on
// every call and fails with ErrEmptyInput for a zero-point cloud.
func (pc *PointCloud) Bounds() (Bounds, error) {
	if pc == nil {
		return Bounds{}, ErrEmptyInput
	}
	return ComputeBounds(pc.points)
}

// Subset copies the points and colours at the given indices, in the order
// given, into a new cloud. Indices must be in range.
func (pc *PointCloud) Subset(indices []int) *PointCloud {
	out := &PointCloud{
		points: make([]Point, 0, len(indices)),
		colors: make([]Color, 0, len(indices)),
	}
	for _, i := range indices {
		out.points = append(out.points, pc.points[i])
		out.colors = append(out.colors, pc.colors[i])
	}
	return out
}

// Clone returns a deep copy of the cloud.
func (pc *PointCloud) Clone() *PointCloud {
	out := &PointCloud{
		points: make([]Point, len(pc.points)),
		colors: make([]Color, len(pc.colors)),
	}
	copy(out.points, pc.points)
	copy(out.colors, pc.colors)
	return out
}
