// Package pointcloud owns the point-cloud data model shared by every stage
// of the processing engine.
//
// Responsibilities: construction from generators or upstream samples,
// copying, and axis-aligned bounds computation.
// Key types: Point, Color, Bounds, PointCloud.
//
// Dependency rule: pointcloud depends on nothing else in this module.
// The metrics, filter and segment subpackages build on it and never
// mutate a PointCloud they receive.
package pointcloud
