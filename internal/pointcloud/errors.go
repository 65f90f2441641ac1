package pointcloud

import "errors"

var (
	// ErrInvalidArgument reports a structurally invalid input such as a
	// non-positive point count, a malformed k or mismatched slices.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmptyInput reports bounds or metrics requested on a zero-point
	// cloud or an empty segment.
	ErrEmptyInput = errors.New("empty input")
)
