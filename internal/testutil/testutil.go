// Package testutil provides shared test utilities and fixtures.
//
// This package centralises point-cloud fixtures and assertion helpers used
// by the engine's package tests.
package testutil

import (
	"errors"
	"testing"

	"github.com/banshee-data/cloudscan/internal/pointcloud"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertErrorIs fails the test unless errors.Is(err, target).
func AssertErrorIs(t testing.TB, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// Cloud builds a cloud from pts with every colour set to black.
func Cloud(t testing.TB, pts ...pointcloud.Point) *pointcloud.PointCloud {
	t.Helper()
	pc, err := pointcloud.New(pts, make([]pointcloud.Color, len(pts)))
	if err != nil {
		t.Fatalf("build test cloud: %v", err)
	}
	return pc
}

// Grid builds an nx*ny*nz lattice with the given spacing, ordered x fastest.
// Colours encode the lattice index so pairing can be checked after copies.
func Grid(t testing.TB, nx, ny, nz int, spacing float64) *pointcloud.PointCloud {
	t.Helper()
	n := nx * ny * nz
	pts := make([]pointcloud.Point, 0, n)
	cols := make([]pointcloud.Color, 0, n)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				idx := len(pts)
				pts = append(pts, pointcloud.Point{
					X: float64(i) * spacing,
					Y: float64(j) * spacing,
					Z: float64(k) * spacing,
				})
				cols = append(cols, pointcloud.ColorFromPacked(uint32(idx)))
			}
		}
	}
	pc, err := pointcloud.New(pts, cols)
	if err != nil {
		t.Fatalf("build grid cloud: %v", err)
	}
	return pc
}

// Blobs places n points tightly around each centre, in centre order. The
// jitter is deterministic so tests can rely on exact membership.
func Blobs(t testing.TB, n int, radius float64, centres ...pointcloud.Point) *pointcloud.PointCloud {
	t.Helper()
	offsets := []pointcloud.Point{
		{X: radius}, {X: -radius}, {Y: radius}, {Y: -radius}, {Z: radius}, {Z: -radius},
	}
	var pts []pointcloud.Point
	for _, c := range centres {
		for i := 0; i < n; i++ {
			o := offsets[i%len(offsets)]
			scale := float64(i/len(offsets)+1) / float64(n)
			pts = append(pts, pointcloud.Point{
				X: c.X + o.X*scale,
				Y: c.Y + o.Y*scale,
				Z: c.Z + o.Z*scale,
			})
		}
	}
	return Cloud(t, pts...)
}
