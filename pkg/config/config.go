// Package config provides configuration loading and management for the
// reconstruction pipeline. It handles loading configuration from YAML files,
// provides default values, and validates the recognized options before any
// computation begins.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"conebeamfdk/internal/models"
)

// Config represents the reconstruction configuration loaded from YAML.
// Angles are given in degrees at this interface and converted to radians
// when the pipeline parameters are built.
type Config struct {
	// Detector geometry parameters
	Detector struct {
		// DS is the horizontal detector sample spacing (required).
		DS float64 `yaml:"ds"`

		// DT is the vertical sample spacing; defaults to DS when zero.
		DT float64 `yaml:"dt"`

		// OffsetS, OffsetT shift the detector center in samples; fractional
		// values such as a quarter-detector offset are permitted.
		OffsetS float64 `yaml:"offsetS"`
		OffsetT float64 `yaml:"offsetT"`

		// DisSrcDet is the source-to-detector distance Dsd.
		DisSrcDet float64 `yaml:"disSrcDet"`

		// DisIsoDet is the isocenter-to-detector distance Dod; the
		// source-to-isocenter distance is derived as Dsd - Dod.
		DisIsoDet float64 `yaml:"disIsoDet"`

		// DisFocSrc is the focal-spot-to-source distance Dfs. Only .inf
		// (flat panel) and 0 (arc) are supported.
		DisFocSrc float64 `yaml:"disFocSrc"`

		// OffsetSource is the lateral source offset (arc geometry only).
		OffsetSource float64 `yaml:"offsetSource"`
	} `yaml:"detector"`

	// Source trajectory parameters
	Orbit struct {
		// Orbit is the total angular sweep in degrees.
		Orbit float64 `yaml:"orbit"`

		// OrbitStart is the first source angle in degrees.
		OrbitStart float64 `yaml:"orbitStart"`

		// IaSkip uses every IaSkip-th view for fast approximate runs.
		IaSkip int `yaml:"iaSkip"`
	} `yaml:"orbit"`

	// Reconstruction volume parameters
	Volume struct {
		// NZ is the slice count.
		NZ int `yaml:"nz"`

		// DX is the in-plane voxel size (required). DY and DZ default to DX
		// when zero.
		DX float64 `yaml:"dx"`
		DY float64 `yaml:"dy"`
		DZ float64 `yaml:"dz"`

		// CenterX, CenterY, CenterZ shift the volume center, in voxels.
		CenterX float64 `yaml:"centerX"`
		CenterY float64 `yaml:"centerY"`
		CenterZ float64 `yaml:"centerZ"`
	} `yaml:"volume"`

	// Ramp filter parameters
	Filter struct {
		// Window is the apodization window: "ramp" or "hann". Ignored when
		// CustomWindow is supplied.
		Window string `yaml:"window"`

		// CustomWindow is an optional frequency-domain window of exactly the
		// padded kernel length, sampled over [-npad/2, npad/2).
		CustomWindow []float64 `yaml:"customWindow,omitempty"`
	} `yaml:"filter"`

	// Processing parameters
	Processing struct {
		// Workers is the number of goroutines used by the filtering and
		// backprojection stages. Zero selects all available CPUs.
		Workers int `yaml:"workers"`

		// UseAlternateBackend selects the reduced-precision per-angle
		// backprojection backend.
		UseAlternateBackend bool `yaml:"useAlternateBackend"`
	} `yaml:"processing"`
}

// DefaultConfig returns a configuration with default values: a flat detector,
// a full 360-degree orbit, and the pure ramp window.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Detector.DS = 1.0
	cfg.Detector.DisSrcDet = 949.0
	cfg.Detector.DisIsoDet = 408.0
	cfg.Detector.DisFocSrc = math.Inf(1)

	cfg.Orbit.Orbit = 360.0
	cfg.Orbit.OrbitStart = 0.0
	cfg.Orbit.IaSkip = 1

	cfg.Volume.NZ = 1
	cfg.Volume.DX = 1.0

	cfg.Filter.Window = "ramp"

	cfg.Processing.Workers = runtime.NumCPU()

	return cfg
}

// LoadConfig loads configuration from a YAML file. If the file doesn't
// exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// ApplyDefaults fills the derivable spacings: dt defaults to ds, dy and dz
// default to dx, and iaSkip defaults to 1.
func (c *Config) ApplyDefaults() {
	if c.Detector.DT == 0 {
		c.Detector.DT = c.Detector.DS
	}
	if c.Volume.DY == 0 {
		c.Volume.DY = c.Volume.DX
	}
	if c.Volume.DZ == 0 {
		c.Volume.DZ = c.Volume.DX
	}
	if c.Orbit.IaSkip < 1 {
		c.Orbit.IaSkip = 1
	}
}

// Validate checks every recognized option and reports the first problem as a
// configuration error. Validation happens before any array is allocated.
func (c *Config) Validate() error {
	if c.Detector.DS <= 0 {
		return fmt.Errorf("%w: detector spacing ds is required and must be positive", models.ErrConfiguration)
	}
	if c.Detector.DT < 0 {
		return fmt.Errorf("%w: detector spacing dt must be positive", models.ErrConfiguration)
	}
	if !math.IsInf(c.Detector.DisFocSrc, 1) && c.Detector.DisFocSrc != 0 {
		return fmt.Errorf("%w: focal-spot distance %g not supported (want 0 or .inf)",
			models.ErrConfiguration, c.Detector.DisFocSrc)
	}
	if c.Detector.DisSrcDet <= 0 {
		return fmt.Errorf("%w: source-to-detector distance must be positive", models.ErrConfiguration)
	}
	if c.Detector.DisSrcDet <= c.Detector.DisIsoDet {
		return fmt.Errorf("%w: source-to-isocenter distance Dsd-Dod=%g must be positive",
			models.ErrConfiguration, c.Detector.DisSrcDet-c.Detector.DisIsoDet)
	}
	if c.Volume.NZ <= 0 {
		return fmt.Errorf("%w: slice count nz must be positive", models.ErrConfiguration)
	}
	if c.Volume.DX <= 0 {
		return fmt.Errorf("%w: voxel size dx is required and must be positive", models.ErrConfiguration)
	}
	if c.Filter.CustomWindow == nil {
		switch c.Filter.Window {
		case "", "ramp", "hann":
		default:
			return fmt.Errorf("%w: unknown filter window %q", models.ErrConfiguration, c.Filter.Window)
		}
	}
	if c.Orbit.Orbit == 0 {
		return fmt.Errorf("%w: orbit sweep must be nonzero", models.ErrConfiguration)
	}
	return nil
}
