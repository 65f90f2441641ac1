// Package security confines the files cloudscan writes to a chosen root.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for a path that resolves outside the root.
var ErrOutsideRoot = errors.New("path escapes output root")

// WithinRoot reports an error unless path, once cleaned, made absolute and
// stripped of symlinks, lies inside root. The path itself need not exist:
// its nearest existing ancestor is resolved instead, so a symlinked parent
// pointing outside root is still caught.
func WithinRoot(path, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve output root: %w", err)
	}
	canonicalRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("resolve output root symlinks: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	canonical := resolveExisting(absPath)

	rel, err := filepath.Rel(canonicalRoot, canonical)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOutsideRoot, path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is not under %s", ErrOutsideRoot, path, root)
	}
	return nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of an
// absolute path and re-attaches the remainder.
func resolveExisting(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	for dir := abs; ; {
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, abs)
			return filepath.Join(resolved, rest)
		}
		dir = parent
	}
}

// CheckOutputs applies WithinRoot to every non-empty path. An empty root
// disables the check.
func CheckOutputs(root string, paths ...string) error {
	if root == "" {
		return nil
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := WithinRoot(p, root); err != nil {
			return err
		}
	}
	return nil
}
