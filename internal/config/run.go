package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Initialisation strategies accepted by the init field.
const (
	InitKMeansPlusPlus = "kmeans++"
	InitRandom         = "random"
)

// RunConfig holds the parameters of one processing run. Every field is
// optional; the Get* methods supply defaults for omitted values so partial
// files are safe.
type RunConfig struct {
	// Generator params
	NPoints *int    `json:"n_points,omitempty" yaml:"n_points,omitempty"`
	Seed    *uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Filter params. NoZMin / NoZMax drop the bound entirely.
	ZMin   *float64 `json:"z_min,omitempty" yaml:"z_min,omitempty"`
	ZMax   *float64 `json:"z_max,omitempty" yaml:"z_max,omitempty"`
	NoZMin *bool    `json:"no_z_min,omitempty" yaml:"no_z_min,omitempty"`
	NoZMax *bool    `json:"no_z_max,omitempty" yaml:"no_z_max,omitempty"`

	// Segmentation params
	K             *int    `json:"k,omitempty" yaml:"k,omitempty"`
	MaxIterations *int    `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	Restarts      *int    `json:"restarts,omitempty" yaml:"restarts,omitempty"`
	Init          *string `json:"init,omitempty" yaml:"init,omitempty"`
	Workers       *int    `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Metrics params
	DistanceSampleSize *int `json:"distance_sample_size,omitempty" yaml:"distance_sample_size,omitempty"`

	// Ingest / output params
	SkipErrorRows *bool   `json:"skip_error_rows,omitempty" yaml:"skip_error_rows,omitempty"`
	RobotID       *string `json:"robot_id,omitempty" yaml:"robot_id,omitempty"`
	Output        *string `json:"output,omitempty" yaml:"output,omitempty"`
}

// EmptyRunConfig returns a RunConfig with all fields set to nil.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// LoadRunConfig loads a RunConfig from a .json, .yaml or .yml file of at
// most 1MB and validates it.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *RunConfig) Validate() error {
	positive := []struct {
		name string
		v    *int
	}{
		{"n_points", c.NPoints},
		{"k", c.K},
		{"max_iterations", c.MaxIterations},
		{"restarts", c.Restarts},
		{"distance_sample_size", c.DistanceSampleSize},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, *p.v)
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", *c.Workers)
	}
	if c.Init != nil && *c.Init != InitKMeansPlusPlus && *c.Init != InitRandom {
		return fmt.Errorf("init must be %q or %q, got %q", InitKMeansPlusPlus, InitRandom, *c.Init)
	}

	for name, v := range map[string]*float64{"z_min": c.ZMin, "z_max": c.ZMax} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%s must be finite, got %v", name, *v)
		}
	}
	if lo, hi := c.GetZBounds(); lo != nil && hi != nil && *lo > *hi {
		return fmt.Errorf("z_min (%g) must not exceed z_max (%g)", *lo, *hi)
	}
	return nil
}

// GetNPoints returns the n_points value or the default.
func (c *RunConfig) GetNPoints() int {
	if c.NPoints == nil {
		return 10000 // default
	}
	return *c.NPoints
}

// GetSeed returns the seed value or the default.
func (c *RunConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 42 // default
	}
	return *c.Seed
}

// GetZBounds returns the effective filter bounds. A nil bound is absent.
func (c *RunConfig) GetZBounds() (lo, hi *float64) {
	if c.NoZMin == nil || !*c.NoZMin {
		v := -2.0 // default
		if c.ZMin != nil {
			v = *c.ZMin
		}
		lo = &v
	}
	if c.NoZMax == nil || !*c.NoZMax {
		v := 5.0 // default
		if c.ZMax != nil {
			v = *c.ZMax
		}
		hi = &v
	}
	return lo, hi
}

// GetK returns the k value or the default.
func (c *RunConfig) GetK() int {
	if c.K == nil {
		return 5 // default
	}
	return *c.K
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *RunConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 50 // default
	}
	return *c.MaxIterations
}

// GetRestarts returns the restarts value or the default.
func (c *RunConfig) GetRestarts() int {
	if c.Restarts == nil {
		return 10 // default
	}
	return *c.Restarts
}

// GetInit returns the init strategy or the default.
func (c *RunConfig) GetInit() string {
	if c.Init == nil {
		return InitKMeansPlusPlus
	}
	return *c.Init
}

// GetWorkers returns the workers value; 0 means one per CPU.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetDistanceSampleSize returns the distance_sample_size value or the default.
func (c *RunConfig) GetDistanceSampleSize() int {
	if c.DistanceSampleSize == nil {
		return 1000 // default
	}
	return *c.DistanceSampleSize
}

// GetSkipErrorRows returns the skip_error_rows value or the default.
func (c *RunConfig) GetSkipErrorRows() bool {
	if c.SkipErrorRows == nil {
		return true // default
	}
	return *c.SkipErrorRows
}

// GetRobotID returns the robot_id filter for CSV input. Empty keeps every
// robot.
func (c *RunConfig) GetRobotID() string {
	if c.RobotID == nil {
		return "" // default
	}
	return *c.RobotID
}

// GetOutput returns the output path or the default.
func (c *RunConfig) GetOutput() string {
	if c.Output == nil || *c.Output == "" {
		return "pointcloud_analysis.json"
	}
	return *c.Output
}
