package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"conebeamfdk/internal/models"
)

// TestDefaultConfig verifies the default parameter set.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !math.IsInf(cfg.Detector.DisFocSrc, 1) {
		t.Errorf("Expected flat detector (Dfs=+Inf) by default, got %g", cfg.Detector.DisFocSrc)
	}
	if cfg.Orbit.Orbit != 360 {
		t.Errorf("Expected 360 degree orbit by default, got %g", cfg.Orbit.Orbit)
	}
	if cfg.Filter.Window != "ramp" {
		t.Errorf("Expected ramp window by default, got %q", cfg.Filter.Window)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default configuration must validate, got %v", err)
	}
}

// TestApplyDefaults verifies the derivable spacing defaults.
func TestApplyDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.DS = 1.5
	cfg.Detector.DT = 0
	cfg.Volume.DX = 0.8
	cfg.Volume.DY = 0
	cfg.Volume.DZ = 0
	cfg.Orbit.IaSkip = 0

	cfg.ApplyDefaults()

	if cfg.Detector.DT != 1.5 {
		t.Errorf("dt should default to ds, got %g", cfg.Detector.DT)
	}
	if cfg.Volume.DY != 0.8 || cfg.Volume.DZ != 0.8 {
		t.Errorf("dy/dz should default to dx, got %g/%g", cfg.Volume.DY, cfg.Volume.DZ)
	}
	if cfg.Orbit.IaSkip != 1 {
		t.Errorf("iaSkip should default to 1, got %d", cfg.Orbit.IaSkip)
	}
}

// TestValidate exercises the configuration failure cases.
func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"MissingSpacing", func(c *Config) { c.Detector.DS = 0 }},
		{"UnsupportedFocalSpot", func(c *Config) { c.Detector.DisFocSrc = 500 }},
		{"UnknownWindow", func(c *Config) { c.Filter.Window = "butterworth" }},
		{"MissingVoxelSize", func(c *Config) { c.Volume.DX = 0 }},
		{"NonPositiveSlices", func(c *Config) { c.Volume.NZ = 0 }},
		{"SourceBehindDetector", func(c *Config) { c.Detector.DisIsoDet = 2000 }},
		{"ZeroOrbit", func(c *Config) { c.Orbit.Orbit = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Volume.NZ = 4
			tc.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

// TestConfigRoundTrip saves and reloads a configuration, including the
// infinite focal-spot distance, which YAML represents as .inf.
func TestConfigRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "conebeamfdk-config-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig()
	cfg.Detector.DS = 0.7
	cfg.Detector.OffsetS = 0.25
	cfg.Volume.NZ = 12
	cfg.Filter.Window = "hann"
	cfg.Processing.UseAlternateBackend = true

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Detector.DS != 0.7 {
		t.Errorf("ds: got %g, want 0.7", loaded.Detector.DS)
	}
	if loaded.Detector.OffsetS != 0.25 {
		t.Errorf("offsetS: got %g, want 0.25", loaded.Detector.OffsetS)
	}
	if !math.IsInf(loaded.Detector.DisFocSrc, 1) {
		t.Errorf("disFocSrc should round-trip as +Inf, got %g", loaded.Detector.DisFocSrc)
	}
	if loaded.Volume.NZ != 12 {
		t.Errorf("nz: got %d, want 12", loaded.Volume.NZ)
	}
	if loaded.Filter.Window != "hann" {
		t.Errorf("window: got %q, want hann", loaded.Filter.Window)
	}
	if !loaded.Processing.UseAlternateBackend {
		t.Error("useAlternateBackend flag lost in round trip")
	}
}

// TestLoadMissingFile verifies that a missing config path yields defaults.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfig of missing file should not fail, got %v", err)
	}
	if cfg.Detector.DS != DefaultConfig().Detector.DS {
		t.Error("missing config file should produce defaults")
	}
}
