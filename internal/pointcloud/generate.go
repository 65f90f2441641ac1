package pointcloud

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSeed is the seed used by DefaultTwoTier.
const DefaultSeed = 42

// Generator synthesises exactly n points and n colours.
type Generator interface {
	Generate(n int) ([]Point, []Color, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(n int) ([]Point, []Color, error)

// Generate calls f(n).
func (f GeneratorFunc) Generate(n int) ([]Point, []Color, error) {
	return f(n)
}

// Generate builds a cloud of exactly n points using g. No partial cloud is
// returned on failure.
func Generate(n int, g Generator) (*PointCloud, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: point count must be positive, got %d", ErrInvalidArgument, n)
	}
	if g == nil {
		return nil, fmt.Errorf("%w: nil generator", ErrInvalidArgument)
	}
	points, colors, err := g.Generate(n)
	if err != nil {
		return nil, fmt.Errorf("generate %d points: %w", n, err)
	}
	if len(points) != n || len(colors) != n {
		return nil, fmt.Errorf("%w: generator returned %d points and %d colors, want %d",
			ErrInvalidArgument, len(points), len(colors), n)
	}
	pc, err := New(points, colors)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// TwoTier emulates a scanned object standing on a ground plane: a broad
// "base" cube of half the points and a narrower "detail" cube, raised along
// z, holding the rest. Colours are uniform over the full 8-bit range.
type TwoTier struct {
	Seed uint64

	// BaseHalfExtent bounds the base points to [-h, h] on every axis.
	BaseHalfExtent float64

	// DetailHalfExtent bounds the detail points to [-h, h] before the
	// z offset is applied.
	DetailHalfExtent float64

	// DetailZOffset is added to the z of every detail point.
	DetailZOffset float64
}

// DefaultTwoTier returns the reference generator: base in [-5,5]^3,
// detail in [-3,3]^3 lifted by +2 on z.
func DefaultTwoTier() TwoTier {
	return TwoTier{
		Seed:             DefaultSeed,
		BaseHalfExtent:   5,
		DetailHalfExtent: 3,
		DetailZOffset:    2,
	}
}

// Generate implements Generator. The first n/2 points are base points and
// the remainder are detail points, so odd counts are honoured exactly.
func (g TwoTier) Generate(n int) ([]Point, []Color, error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("%w: point count must be positive, got %d", ErrInvalidArgument, n)
	}
	if g.BaseHalfExtent <= 0 || g.DetailHalfExtent <= 0 {
		return nil, nil, fmt.Errorf("%w: half extents must be positive (base=%v, detail=%v)",
			ErrInvalidArgument, g.BaseHalfExtent, g.DetailHalfExtent)
	}

	src := rand.NewPCG(g.Seed, g.Seed^0x9e3779b97f4a7c15)
	base := distuv.Uniform{Min: -g.BaseHalfExtent, Max: g.BaseHalfExtent, Src: src}
	detail := distuv.Uniform{Min: -g.DetailHalfExtent, Max: g.DetailHalfExtent, Src: src}

	points := make([]Point, n)
	nBase := n / 2
	for i := 0; i < nBase; i++ {
		points[i] = Point{X: base.Rand(), Y: base.Rand(), Z: base.Rand()}
	}
	for i := nBase; i < n; i++ {
		points[i] = Point{X: detail.Rand(), Y: detail.Rand(), Z: detail.Rand() + g.DetailZOffset}
	}

	rng := rand.New(src)
	colors := make([]Color, n)
	for i := range colors {
		colors[i] = Color{
			R: uint8(rng.IntN(256)),
			G: uint8(rng.IntN(256)),
			B: uint8(rng.IntN(256)),
		}
	}
	return points, colors, nil
}
