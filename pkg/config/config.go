// Package config provides configuration loading and management for slicesurf.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"slicesurf/pkg/isovalue"
	"slicesurf/pkg/logging"
	"slicesurf/pkg/marching"
	"slicesurf/pkg/mesh"
	"slicesurf/pkg/reconstruction"
	"slicesurf/pkg/repair"
)

// ErrUnknownFormat is returned for a configuration file extension that is
// neither YAML nor TOML
var ErrUnknownFormat = errors.New("unknown configuration format")

// Output formats for the STL writer
const (
	FormatBinary = "binary"
	FormatASCII  = "ascii"
)

// Region is a half-open box of cube origins in voxel indices. A truncated
// run can be retried on a tighter region.
type Region struct {
	Min [3]int `yaml:"min" toml:"min"`
	Max [3]int `yaml:"max" toml:"max"`
}

// ParseRegion parses "x0,y0,z0:x1,y1,z1" into a region
func ParseRegion(s string) (*Region, error) {
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("region %q: expected min:max", s)
	}
	var r Region
	for i, part := range []string{lo, hi} {
		fields := strings.Split(part, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("region %q: expected three comma separated indices in %q", s, part)
		}
		corner := &r.Min
		if i == 1 {
			corner = &r.Max
		}
		for j, f := range fields {
			v, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return nil, fmt.Errorf("region %q: %w", s, err)
			}
			corner[j] = v
		}
	}
	return &r, nil
}

// Config represents the application configuration loaded from YAML or TOML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers bounds how many goroutines sample the volume, 0 for all cores
		NumWorkers int `yaml:"numWorkers" toml:"numWorkers"`

		// Isovalue is the surface threshold in physical units. When unset the
		// threshold is chosen from Tissue and the value distribution.
		Isovalue *float64 `yaml:"isovalue,omitempty" toml:"isovalue,omitempty"`

		// Tissue selects a preset threshold: auto, skin, bone, brain or soft-tissue
		Tissue string `yaml:"tissue" toml:"tissue"`

		// Downsample is the step of the normal field in voxels
		Downsample int `yaml:"downsample" toml:"downsample"`

		// Step is the marching cube edge length in voxels
		Step int `yaml:"step" toml:"step"`

		// MaxTriangles stops triangulation once exceeded, 0 for no ceiling
		MaxTriangles int `yaml:"maxTriangles" toml:"maxTriangles"`

		// TimeoutSeconds bounds triangulation wall time, 0 for no limit
		TimeoutSeconds float64 `yaml:"timeoutSeconds" toml:"timeoutSeconds"`

		// WorldSpace places the mesh in patient coordinates
		WorldSpace bool `yaml:"worldSpace" toml:"worldSpace"`

		// Region restricts triangulation to a sub-range of the grid. When
		// unset the whole volume is traversed.
		Region *Region `yaml:"region,omitempty" toml:"region,omitempty"`
	} `yaml:"processing" toml:"processing"`

	// Vertex welding parameters
	Weld struct {
		// Precision is the number of weld cells per millimetre
		Precision float64 `yaml:"precision" toml:"precision"`
	} `yaml:"weld" toml:"weld"`

	// Mesh cleanup parameters
	Cleanup struct {
		FixNormals       bool    `yaml:"fixNormals" toml:"fixNormals"`
		SmoothIterations int     `yaml:"smoothIterations" toml:"smoothIterations"`
		SmoothFactor     float64 `yaml:"smoothFactor" toml:"smoothFactor"`

		// CloseHoles fills boundary loops with fewer than MaxLoopVertices
		// vertices, unless the mesh has more than MaxBoundaryEdges open edges
		CloseHoles       bool `yaml:"closeHoles" toml:"closeHoles"`
		MaxLoopVertices  int  `yaml:"maxLoopVertices" toml:"maxLoopVertices"`
		MaxBoundaryEdges int  `yaml:"maxBoundaryEdges" toml:"maxBoundaryEdges"`

		// MinComponentSize drops fragments with fewer triangles
		MinComponentSize int `yaml:"minComponentSize" toml:"minComponentSize"`
	} `yaml:"cleanup" toml:"cleanup"`

	// Isovalue advisor parameters
	Advisor struct {
		// SampleCount is the number of voxels sampled for the value distribution
		SampleCount int `yaml:"sampleCount" toml:"sampleCount"`

		// FullAnalysis also searches the value histogram for peaks
		FullAnalysis bool `yaml:"fullAnalysis" toml:"fullAnalysis"`
	} `yaml:"advisor" toml:"advisor"`

	// Output parameters
	Output struct {
		// Format is binary or ascii
		Format string `yaml:"format" toml:"format"`

		// Name is the solid name written into the STL header
		Name string `yaml:"name" toml:"name"`
	} `yaml:"output" toml:"output"`

	// Logging parameters
	Log struct {
		// Level is debug, info, warning, error or silent
		Level string `yaml:"level" toml:"level"`

		// File sends the log to a rotating file instead of stderr
		File       string `yaml:"file" toml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMB" toml:"maxSizeMB"`
		MaxAgeDays int    `yaml:"maxAgeDays" toml:"maxAgeDays"`
	} `yaml:"log" toml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	params := reconstruction.DefaultParams()

	// Set default processing parameters
	cfg.Processing.NumWorkers = 0 // Use all available cores by default
	cfg.Processing.Tissue = isovalue.Auto.String()
	cfg.Processing.Downsample = params.Downsample
	cfg.Processing.Step = 1
	cfg.Processing.MaxTriangles = params.Limits.MaxTriangles
	cfg.Processing.TimeoutSeconds = params.Limits.Timeout.Seconds()

	cfg.Weld.Precision = mesh.DefaultWeldPrecision

	// Set default cleanup parameters
	cfg.Cleanup.FixNormals = params.FixNormals
	cfg.Cleanup.SmoothIterations = params.SmoothIterations
	cfg.Cleanup.SmoothFactor = params.SmoothFactor
	cfg.Cleanup.CloseHoles = params.CloseHoles
	cfg.Cleanup.MaxLoopVertices = repair.DefaultMaxLoopVertices
	cfg.Cleanup.MaxBoundaryEdges = repair.DefaultMaxBoundaryEdges

	cfg.Advisor.SampleCount = isovalue.DefaultSampleCount

	// Set default output parameters
	cfg.Output.Format = FormatBinary
	cfg.Output.Name = "slicesurf"

	cfg.Log.Level = logging.InfoLevel.String()
	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxAgeDays = 28

	return cfg
}

// isTOML reports whether path names a TOML file
func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// checkFormat rejects extensions that are neither YAML nor TOML
func checkFormat(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".yaml", ".yml":
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist, it returns the default configuration.
// Values missing from the file keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if err := checkFormat(configPath); err != nil {
		return nil, err
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	if isTOML(configPath) {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file, chosen by extension
func SaveConfig(cfg *Config, configPath string) error {
	if err := checkFormat(configPath); err != nil {
		return err
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks that every value is in range
func (c *Config) Validate() error {
	p := c.Processing
	switch {
	case p.NumWorkers < 0:
		return fmt.Errorf("processing.numWorkers must not be negative, got %d", p.NumWorkers)
	case p.Downsample < 1:
		return fmt.Errorf("processing.downsample must be at least 1, got %d", p.Downsample)
	case p.Step < 1:
		return fmt.Errorf("processing.step must be at least 1, got %d", p.Step)
	case p.MaxTriangles < 0:
		return fmt.Errorf("processing.maxTriangles must not be negative, got %d", p.MaxTriangles)
	case p.TimeoutSeconds < 0:
		return fmt.Errorf("processing.timeoutSeconds must not be negative, got %g", p.TimeoutSeconds)
	}
	if _, err := isovalue.ParseTissue(p.Tissue); err != nil {
		return fmt.Errorf("processing.tissue: %w", err)
	}
	if r := p.Region; r != nil {
		for i := 0; i < 3; i++ {
			if r.Min[i] < 0 || r.Max[i] <= r.Min[i] {
				return fmt.Errorf("processing.region must satisfy 0 <= min < max on every axis, got %v:%v", r.Min, r.Max)
			}
		}
	}

	cl := c.Cleanup
	switch {
	case cl.SmoothIterations < 0:
		return fmt.Errorf("cleanup.smoothIterations must not be negative, got %d", cl.SmoothIterations)
	case cl.SmoothFactor < 0 || cl.SmoothFactor > 1:
		return fmt.Errorf("cleanup.smoothFactor must lie in [0, 1], got %g", cl.SmoothFactor)
	case cl.MinComponentSize < 0:
		return fmt.Errorf("cleanup.minComponentSize must not be negative, got %d", cl.MinComponentSize)
	}

	if c.Advisor.SampleCount < 0 {
		return fmt.Errorf("advisor.sampleCount must not be negative, got %d", c.Advisor.SampleCount)
	}

	switch strings.ToLower(c.Output.Format) {
	case FormatBinary, FormatASCII:
	default:
		return fmt.Errorf("output.format must be %s or %s, got %q", FormatBinary, FormatASCII, c.Output.Format)
	}
	return nil
}

// ReconstructionParams maps the configuration onto the reconstruction parameters
func (c *Config) ReconstructionParams() (reconstruction.Params, error) {
	tissue, err := isovalue.ParseTissue(c.Processing.Tissue)
	if err != nil {
		return reconstruction.Params{}, err
	}

	params := reconstruction.DefaultParams()
	if c.Processing.Isovalue != nil {
		iso := *c.Processing.Isovalue
		params.Isovalue = &iso
	}
	params.Tissue = tissue
	params.Workers = c.Processing.NumWorkers
	params.Downsample = c.Processing.Downsample
	params.WorldSpace = c.Processing.WorldSpace
	params.Limits = marching.Limits{
		MaxTriangles: c.Processing.MaxTriangles,
		Timeout:      time.Duration(c.Processing.TimeoutSeconds * float64(time.Second)),
		Step:         c.Processing.Step,
	}
	if r := c.Processing.Region; r != nil {
		params.Limits.Region = &marching.Region{Min: r.Min, Max: r.Max}
	}

	params.WeldPrecision = c.Weld.Precision

	params.FixNormals = c.Cleanup.FixNormals
	params.SmoothIterations = c.Cleanup.SmoothIterations
	params.SmoothFactor = c.Cleanup.SmoothFactor
	params.CloseHoles = c.Cleanup.CloseHoles
	params.Holes = repair.HoleOptions{
		MaxLoopVertices:  c.Cleanup.MaxLoopVertices,
		MaxBoundaryEdges: c.Cleanup.MaxBoundaryEdges,
	}
	params.MinComponentSize = c.Cleanup.MinComponentSize

	params.SampleCount = c.Advisor.SampleCount
	params.FullAnalysis = c.Advisor.FullAnalysis
	return params, nil
}

// LogConfig returns the logger settings
func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Level:   logging.ParseLevel(c.Log.Level),
		File:    c.Log.File,
		MaxSize: c.Log.MaxSizeMB,
		MaxAge:  c.Log.MaxAgeDays,
	}
}
